// Package registry holds the static table of CCTP-enabled networks and the
// helpers to look them up and decide fast-transfer eligibility.
package registry

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/stablemesh/cctp-middleware/pkg/config"
)

// Network describes a CCTP-enabled chain: its EVM chain id, the protocol
// domain used by the attestation service, and the contract entry points.
type Network struct {
	Key                string
	Name               string
	ChainID            uint64
	Domain             uint32
	RPCURL             string
	TokenMessenger     string
	MessageTransmitter string
	TokenMinter        string
	USDCAddress        string
	Explorer           string
	NativeSymbol       string
	FastTransferEnabled bool
	// FastTransferAllowance is the per-transfer ceiling in USDC units
	// (6 decimals), as a decimal string.
	FastTransferAllowance string
	HooksEnabled          bool
}

// Registry resolves network names and chain ids to network descriptors.
type Registry struct {
	byKey     map[string]*Network
	byChainID map[uint64]*Network
}

// builtins returns the default testnet table. Config overrides are applied
// on top of these entries.
func builtins() []*Network {
	return []*Network{
		{
			Key:                "ethereum",
			Name:               "Ethereum Sepolia",
			ChainID:            11155111,
			Domain:             0,
			RPCURL:             "https://ethereum-sepolia-rpc.publicnode.com",
			TokenMessenger:     "0x9f3B8679c73C2Fef8b59B4f3444d4e156fb70AA5",
			MessageTransmitter: "0x7865fAfC2db2093669d92c0F33AeEF291086BEFD",
			TokenMinter:        "0xb43db544E2c27092c107639Ad201b3dEfAbcF192",
			USDCAddress:        "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238",
			Explorer:           "https://sepolia.etherscan.io",
			NativeSymbol:       "ETH",
		},
		{
			Key:                "base",
			Name:               "Base Sepolia",
			ChainID:            84532,
			Domain:             6,
			RPCURL:             "https://sepolia.base.org",
			TokenMessenger:     "0x9f3B8679c73C2Fef8b59B4f3444d4e156fb70AA5",
			MessageTransmitter: "0x7865fAfC2db2093669d92c0F33AeEF291086BEFD",
			TokenMinter:        "0xb43db544E2c27092c107639Ad201b3dEfAbcF192",
			USDCAddress:        "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
			Explorer:           "https://sepolia-explorer.base.org",
			NativeSymbol:       "ETH",
		},
		{
			Key:                "arbitrum",
			Name:               "Arbitrum Sepolia",
			ChainID:            421614,
			Domain:             3,
			RPCURL:             "https://sepolia-rollup.arbitrum.io/rpc",
			TokenMessenger:     "0x9f3B8679c73C2Fef8b59B4f3444d4e156fb70AA5",
			MessageTransmitter: "0x7865fAfC2db2093669d92c0F33AeEF291086BEFD",
			TokenMinter:        "0xb43db544E2c27092c107639Ad201b3dEfAbcF192",
			USDCAddress:        "0x75faf114eafb1BDbe2F0316DF893fd58CE46AA4d",
			Explorer:           "https://sepolia-explorer.arbitrum.io",
			NativeSymbol:       "ETH",
		},
		{
			Key:                "polygon",
			Name:               "Polygon Amoy",
			ChainID:            80002,
			Domain:             7,
			RPCURL:             "https://rpc-amoy.polygon.technology",
			TokenMessenger:     "0x9f3B8679c73C2Fef8b59B4f3444d4e156fb70AA5",
			MessageTransmitter: "0x7865fAfC2db2093669d92c0F33AeEF291086BEFD",
			TokenMinter:        "0xb43db544E2c27092c107639Ad201b3dEfAbcF192",
			USDCAddress:        "0x41E94Eb019C0762f9Bfcf9Fb1E58725BfB0e7582",
			Explorer:           "https://amoy.polygonscan.com",
			NativeSymbol:       "MATIC",
		},
	}
}

// New builds a registry from the built-in table with config overrides applied.
// Overrides keyed by an unknown name declare a new network and must carry a
// chain id and domain.
func New(overrides map[string]config.NetworkOverride) (*Registry, error) {
	r := &Registry{
		byKey:     make(map[string]*Network),
		byChainID: make(map[uint64]*Network),
	}
	for _, n := range builtins() {
		r.byKey[n.Key] = n
	}

	for key, o := range overrides {
		n, ok := r.byKey[key]
		if !ok {
			if o.ChainID == 0 || o.Domain == nil {
				return nil, fmt.Errorf("network %q: chain_id and domain are required for new networks", key)
			}
			n = &Network{Key: key}
			r.byKey[key] = n
		}
		applyOverride(n, o)
	}

	for _, n := range r.byKey {
		if other, dup := r.byChainID[n.ChainID]; dup {
			return nil, fmt.Errorf("networks %q and %q share chain id %d", other.Key, n.Key, n.ChainID)
		}
		r.byChainID[n.ChainID] = n
	}
	return r, nil
}

func applyOverride(n *Network, o config.NetworkOverride) {
	if o.ChainID != 0 {
		n.ChainID = o.ChainID
	}
	if o.Domain != nil {
		n.Domain = *o.Domain
	}
	if o.Name != "" {
		n.Name = o.Name
	}
	if o.RPCURL != "" {
		n.RPCURL = o.RPCURL
	}
	if o.TokenMessenger != "" {
		n.TokenMessenger = o.TokenMessenger
	}
	if o.MessageTransmitter != "" {
		n.MessageTransmitter = o.MessageTransmitter
	}
	if o.TokenMinter != "" {
		n.TokenMinter = o.TokenMinter
	}
	if o.USDCAddress != "" {
		n.USDCAddress = o.USDCAddress
	}
	if o.Explorer != "" {
		n.Explorer = o.Explorer
	}
	if o.NativeSymbol != "" {
		n.NativeSymbol = o.NativeSymbol
	}
	if o.FastTransfer != nil {
		n.FastTransferEnabled = *o.FastTransfer
	}
	if o.FastAllowance != "" {
		n.FastTransferAllowance = o.FastAllowance
	}
	if o.Hooks != nil {
		n.HooksEnabled = *o.Hooks
	}
}

// Get returns the network for the given key.
func (r *Registry) Get(key string) (*Network, error) {
	n, ok := r.byKey[key]
	if !ok {
		return nil, fmt.Errorf("unknown network %q", key)
	}
	return n, nil
}

// ByChainID returns the network with the given EVM chain id.
func (r *Registry) ByChainID(chainID uint64) (*Network, error) {
	n, ok := r.byChainID[chainID]
	if !ok {
		return nil, fmt.Errorf("unknown chain id %d", chainID)
	}
	return n, nil
}

// Keys returns all registered network keys.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.byKey))
	for k := range r.byKey {
		keys = append(keys, k)
	}
	return keys
}

// FastTransferSupported reports whether the source/destination pair supports
// fast transfers for the given USDC amount.
func (r *Registry) FastTransferSupported(source, destination string, amount string) bool {
	src, err := r.Get(source)
	if err != nil {
		return false
	}
	dst, err := r.Get(destination)
	if err != nil {
		return false
	}
	if !src.FastTransferEnabled || !dst.FastTransferEnabled {
		return false
	}

	amt, err := decimal.NewFromString(amount)
	if err != nil {
		return false
	}
	allowance, err := decimal.NewFromString(src.FastTransferAllowance)
	if err != nil {
		return false
	}
	// The allowance is expressed in USDC units (6 decimals).
	units := amt.Shift(6)
	return units.LessThanOrEqual(allowance)
}

// ExplorerTxURL returns a block explorer link for a transaction on the
// given network, or an empty string if the network is unknown.
func (r *Registry) ExplorerTxURL(key, txHash string) string {
	n, err := r.Get(key)
	if err != nil || n.Explorer == "" {
		return ""
	}
	return fmt.Sprintf("%s/tx/%s", n.Explorer, txHash)
}
