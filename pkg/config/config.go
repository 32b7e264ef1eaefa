package config

import (
	"fmt"
	"time"

	"github.com/creasty/defaults"
	"github.com/spf13/viper"
)

// Config represents the orchestrator configuration
type Config struct {
	Server      ServerConfig               `mapstructure:"server"`
	Storage     StorageConfig              `mapstructure:"storage"`
	Database    DatabaseConfig             `mapstructure:"database"`
	Attestation AttestationConfig          `mapstructure:"attestation"`
	Tracker     TrackerConfig              `mapstructure:"tracker"`
	Signer      SignerConfig               `mapstructure:"signer"`
	Networks    map[string]NetworkOverride `mapstructure:"networks"`
	Monitoring  MonitoringConfig           `mapstructure:"monitoring"`
	Logging     LoggingConfig              `mapstructure:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// StorageConfig selects and tunes the transfer store backend
type StorageConfig struct {
	// Backend is either "file" or "postgres"
	Backend       string `mapstructure:"backend"`
	FilePath      string `mapstructure:"file_path"`
	MaxTransfers  int    `mapstructure:"max_transfers"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// DatabaseConfig contains PostgreSQL connection settings (postgres backend only)
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// AttestationConfig contains settings for the Circle attestation API client
type AttestationConfig struct {
	BaseURL          string        `mapstructure:"base_url" default:"https://iris-api-sandbox.circle.com"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout" default:"15s"`
	PollInterval     time.Duration `mapstructure:"poll_interval" default:"5s"`
	MaxAttempts      int           `mapstructure:"max_attempts" default:"60"`
	FastPollInterval time.Duration `mapstructure:"fast_poll_interval" default:"2s"`
	FastMaxAttempts  int           `mapstructure:"fast_max_attempts" default:"20"`
}

// TrackerConfig contains settings for the transfer tracker's polling tasks
type TrackerConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval" default:"10s"`
	MaxRetries   int           `mapstructure:"max_retries" default:"20"`
}

// SignerConfig contains the key used by the EVM executor to submit burn/mint
// transactions. The key is hex-encoded without the 0x prefix.
type SignerConfig struct {
	PrivateKey string        `mapstructure:"private_key"`
	GasLimit   uint64        `mapstructure:"gas_limit"`
	TxTimeout  time.Duration `mapstructure:"tx_timeout" default:"3m"`
}

// NetworkOverride allows overriding fields of a built-in network entry,
// or declaring a new network altogether.
type NetworkOverride struct {
	ChainID            uint64  `mapstructure:"chain_id"`
	Domain             *uint32 `mapstructure:"domain"`
	Name               string  `mapstructure:"name"`
	RPCURL             string  `mapstructure:"rpc_url"`
	TokenMessenger     string  `mapstructure:"token_messenger"`
	MessageTransmitter string  `mapstructure:"message_transmitter"`
	TokenMinter        string  `mapstructure:"token_minter"`
	USDCAddress        string  `mapstructure:"usdc_address"`
	Explorer           string  `mapstructure:"explorer"`
	NativeSymbol       string  `mapstructure:"native_symbol"`
	FastTransfer       *bool   `mapstructure:"fast_transfer"`
	FastAllowance      string  `mapstructure:"fast_allowance"`
	Hooks              *bool   `mapstructure:"hooks"`
}

// MonitoringConfig contains monitoring and metrics settings
type MonitoringConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Fill zero-valued nested settings from struct tags.
	if err := defaults.Set(&config.Attestation); err != nil {
		return nil, fmt.Errorf("failed to apply attestation defaults: %w", err)
	}
	if err := defaults.Set(&config.Tracker); err != nil {
		return nil, fmt.Errorf("failed to apply tracker defaults: %w", err)
	}
	if err := defaults.Set(&config.Signer); err != nil {
		return nil, fmt.Errorf("failed to apply signer defaults: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)

	// Storage defaults
	viper.SetDefault("storage.backend", "file")
	viper.SetDefault("storage.file_path", "data/transfers.json")
	viper.SetDefault("storage.max_transfers", 100)
	viper.SetDefault("storage.retention_days", 30)

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.database", "cctp_orchestrator")

	// Signer defaults
	viper.SetDefault("signer.gas_limit", 300000)

	// Monitoring defaults
	viper.SetDefault("monitoring.enabled", true)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output_path", "stdout")
}

func validate(config *Config) error {
	switch config.Storage.Backend {
	case "file":
		if config.Storage.FilePath == "" {
			return fmt.Errorf("storage.file_path is required for the file backend")
		}
	case "postgres":
		if config.Database.Host == "" {
			return fmt.Errorf("database.host is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", config.Storage.Backend)
	}
	if config.Attestation.BaseURL == "" {
		return fmt.Errorf("attestation.base_url is required")
	}
	if config.Storage.MaxTransfers <= 0 {
		return fmt.Errorf("storage.max_transfers must be positive")
	}
	return nil
}

// GetConnectionString returns a PostgreSQL connection string
func (c *DatabaseConfig) GetConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
