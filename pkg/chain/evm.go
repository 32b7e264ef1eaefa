package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/stablemesh/cctp-middleware/internal/metrics"
	"github.com/stablemesh/cctp-middleware/pkg/config"
	"github.com/stablemesh/cctp-middleware/pkg/registry"
)

const erc20ABI = `[
	{"name":"approve","type":"function","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"type":"bool"}]},
	{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"type":"uint256"}]},
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"type":"uint256"}]}
]`

const tokenMessengerABI = `[
	{"name":"depositForBurn","type":"function","inputs":[{"name":"amount","type":"uint256"},{"name":"destinationDomain","type":"uint32"},{"name":"mintRecipient","type":"bytes32"},{"name":"burnToken","type":"address"}],"outputs":[{"name":"nonce","type":"uint64"}]},
	{"name":"depositForBurnWithCaller","type":"function","inputs":[{"name":"amount","type":"uint256"},{"name":"destinationDomain","type":"uint32"},{"name":"mintRecipient","type":"bytes32"},{"name":"burnToken","type":"address"},{"name":"destinationCaller","type":"bytes32"}],"outputs":[{"name":"nonce","type":"uint64"}]},
	{"name":"DepositForBurn","type":"event","inputs":[{"name":"nonce","type":"uint64","indexed":true},{"name":"burnToken","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false},{"name":"depositor","type":"address","indexed":true},{"name":"mintRecipient","type":"bytes32","indexed":false},{"name":"destinationDomain","type":"uint32","indexed":false},{"name":"destinationTokenMessenger","type":"bytes32","indexed":false},{"name":"destinationCaller","type":"bytes32","indexed":false}]}
]`

const messageTransmitterABI = `[
	{"name":"receiveMessage","type":"function","inputs":[{"name":"message","type":"bytes"},{"name":"attestation","type":"bytes"}],"outputs":[{"name":"success","type":"bool"}]},
	{"name":"usedNonces","type":"function","stateMutability":"view","inputs":[{"name":"sourceAndNonce","type":"bytes32"}],"outputs":[{"type":"uint256"}]}
]`

// EVMExecutor implements Executor against EVM chains over JSON-RPC.
// One instance serves all configured networks; connections are dialed
// lazily and cached per RPC endpoint.
type EVMExecutor struct {
	cfg    config.SignerConfig
	logger *zap.Logger

	privateKey *ecdsa.PrivateKey
	sender     common.Address

	erc20Abi       abi.ABI
	messengerAbi   abi.ABI
	transmitterAbi abi.ABI

	mu      sync.Mutex
	clients map[string]*ethclient.Client
}

// NewEVMExecutor loads the signing key and parses the contract ABIs.
func NewEVMExecutor(cfg config.SignerConfig, logger *zap.Logger) (*EVMExecutor, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to load signer key: %w", err)
	}

	erc20Parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC20 ABI: %w", err)
	}
	messengerParsed, err := abi.JSON(strings.NewReader(tokenMessengerABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token messenger ABI: %w", err)
	}
	transmitterParsed, err := abi.JSON(strings.NewReader(messageTransmitterABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message transmitter ABI: %w", err)
	}

	return &EVMExecutor{
		cfg:            cfg,
		logger:         logger,
		privateKey:     key,
		sender:         crypto.PubkeyToAddress(key.PublicKey),
		erc20Abi:       erc20Parsed,
		messengerAbi:   messengerParsed,
		transmitterAbi: transmitterParsed,
		clients:        make(map[string]*ethclient.Client),
	}, nil
}

// SenderAddress returns the address derived from the signing key.
func (e *EVMExecutor) SenderAddress() string {
	return e.sender.Hex()
}

func (e *EVMExecutor) client(rpcURL string) (*ethclient.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.clients[rpcURL]; ok {
		return c, nil
	}
	c, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC %s: %w", rpcURL, err)
	}
	e.clients[rpcURL] = c
	return c, nil
}

func (e *EVMExecutor) transactor(ctx context.Context, client *ethclient.Client, chainID uint64) (*bind.TransactOpts, error) {
	auth, err := bind.NewKeyedTransactorWithChainID(e.privateKey, new(big.Int).SetUint64(chainID))
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}

	nonce, err := client.PendingNonceAt(ctx, e.sender)
	if err != nil {
		return nil, fmt.Errorf("failed to get account nonce: %w", err)
	}
	auth.Nonce = big.NewInt(int64(nonce))
	auth.GasLimit = e.cfg.GasLimit
	auth.Context = ctx
	return auth, nil
}

// waitMined blocks until the transaction is mined or the tx timeout expires,
// and fails on a reverted receipt.
func (e *EVMExecutor) waitMined(ctx context.Context, client *ethclient.Client, tx *types.Transaction) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, e.cfg.TxTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, client, tx)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for transaction %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("transaction %s reverted", tx.Hash().Hex())
	}
	return receipt, nil
}

func (e *EVMExecutor) Burn(ctx context.Context, req BurnRequest) (*BurnResult, error) {
	client, err := e.client(req.Source.RPCURL)
	if err != nil {
		return nil, err
	}

	usdc := common.HexToAddress(req.Source.USDCAddress)
	messenger := common.HexToAddress(req.Source.TokenMessenger)
	amountUnits := req.Amount.Shift(6).BigInt()

	if err := e.ensureAllowance(ctx, client, req.Source.ChainID, usdc, messenger, amountUnits); err != nil {
		metrics.TransactionsSent.WithLabelValues("approve", "error").Inc()
		return nil, err
	}

	auth, err := e.transactor(ctx, client, req.Source.ChainID)
	if err != nil {
		return nil, err
	}

	var recipient [32]byte
	copy(recipient[:], common.LeftPadBytes(common.HexToAddress(req.DestinationAddress).Bytes(), 32))

	contract := bind.NewBoundContract(messenger, e.messengerAbi, client, client, client)

	// A hook restricts the mint to its target contract, so the burn must go
	// through the caller-gated variant.
	var tx *types.Transaction
	if req.Hook != nil {
		var caller [32]byte
		copy(caller[:], common.LeftPadBytes(common.HexToAddress(req.Hook.Target).Bytes(), 32))
		tx, err = contract.Transact(auth, "depositForBurnWithCaller", amountUnits, req.Destination.Domain, recipient, usdc, caller)
	} else {
		tx, err = contract.Transact(auth, "depositForBurn", amountUnits, req.Destination.Domain, recipient, usdc)
	}
	if err != nil {
		metrics.TransactionsSent.WithLabelValues("burn", "error").Inc()
		return nil, fmt.Errorf("failed to submit burn transaction: %w", err)
	}

	e.logger.Info("Burn transaction submitted",
		zap.String("tx_hash", tx.Hash().Hex()),
		zap.String("source", req.Source.Key),
		zap.String("destination", req.Destination.Key),
		zap.String("amount", req.Amount.String()),
		zap.Bool("fast", req.UseFastTransfer),
		zap.Bool("hook", req.Hook != nil))

	receipt, err := e.waitMined(ctx, client, tx)
	if err != nil {
		metrics.TransactionsSent.WithLabelValues("burn", "error").Inc()
		return nil, err
	}

	nonce, err := e.burnNonce(receipt)
	if err != nil {
		metrics.TransactionsSent.WithLabelValues("burn", "error").Inc()
		return nil, err
	}

	metrics.TransactionsSent.WithLabelValues("burn", "success").Inc()
	return &BurnResult{TxHash: tx.Hash().Hex(), Nonce: nonce}, nil
}

// ensureAllowance approves the token messenger when the current allowance is
// below the burn amount.
func (e *EVMExecutor) ensureAllowance(ctx context.Context, client *ethclient.Client, chainID uint64, usdc, spender common.Address, amount *big.Int) error {
	token := bind.NewBoundContract(usdc, e.erc20Abi, client, client, client)

	var out []interface{}
	err := token.Call(&bind.CallOpts{Context: ctx}, &out, "allowance", e.sender, spender)
	if err != nil {
		return fmt.Errorf("failed to read USDC allowance: %w", err)
	}
	allowance := abi.ConvertType(out[0], new(big.Int)).(*big.Int)
	if allowance.Cmp(amount) >= 0 {
		return nil
	}

	auth, err := e.transactor(ctx, client, chainID)
	if err != nil {
		return err
	}
	tx, err := token.Transact(auth, "approve", spender, amount)
	if err != nil {
		return fmt.Errorf("failed to submit approval transaction: %w", err)
	}

	e.logger.Info("Approval transaction submitted", zap.String("tx_hash", tx.Hash().Hex()))
	if _, err := e.waitMined(ctx, client, tx); err != nil {
		return err
	}
	metrics.TransactionsSent.WithLabelValues("approve", "success").Inc()
	return nil
}

// burnNonce extracts the transmitter nonce from the DepositForBurn event
// in the burn receipt.
func (e *EVMExecutor) burnNonce(receipt *types.Receipt) (uint64, error) {
	eventID := e.messengerAbi.Events["DepositForBurn"].ID
	for _, log := range receipt.Logs {
		if len(log.Topics) < 2 || log.Topics[0] != eventID {
			continue
		}
		return new(big.Int).SetBytes(log.Topics[1].Bytes()).Uint64(), nil
	}
	return 0, fmt.Errorf("no DepositForBurn event in receipt %s", receipt.TxHash.Hex())
}

func (e *EVMExecutor) Mint(ctx context.Context, network *registry.Network, message, attestation string) (string, error) {
	client, err := e.client(network.RPCURL)
	if err != nil {
		return "", err
	}

	auth, err := e.transactor(ctx, client, network.ChainID)
	if err != nil {
		return "", err
	}

	transmitter := bind.NewBoundContract(common.HexToAddress(network.MessageTransmitter), e.transmitterAbi, client, client, client)
	tx, err := transmitter.Transact(auth, "receiveMessage", common.FromHex(message), common.FromHex(attestation))
	if err != nil {
		metrics.TransactionsSent.WithLabelValues("mint", "error").Inc()
		return "", fmt.Errorf("failed to submit mint transaction: %w", err)
	}

	e.logger.Info("Mint transaction submitted",
		zap.String("tx_hash", tx.Hash().Hex()),
		zap.String("network", network.Key))

	if _, err := e.waitMined(ctx, client, tx); err != nil {
		metrics.TransactionsSent.WithLabelValues("mint", "error").Inc()
		return "", err
	}

	metrics.TransactionsSent.WithLabelValues("mint", "success").Inc()
	return tx.Hash().Hex(), nil
}

func (e *EVMExecutor) IsMessageConsumed(ctx context.Context, network *registry.Network, messageHash string) (bool, error) {
	client, err := e.client(network.RPCURL)
	if err != nil {
		return false, err
	}

	var hash [32]byte
	copy(hash[:], common.FromHex(messageHash))

	transmitter := bind.NewBoundContract(common.HexToAddress(network.MessageTransmitter), e.transmitterAbi, client, client, client)
	var out []interface{}
	if err := transmitter.Call(&bind.CallOpts{Context: ctx}, &out, "usedNonces", hash); err != nil {
		return false, fmt.Errorf("failed to query usedNonces: %w", err)
	}
	used := abi.ConvertType(out[0], new(big.Int)).(*big.Int)
	return used.Sign() != 0, nil
}

// Close tears down all cached RPC connections.
func (e *EVMExecutor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.clients {
		c.Close()
	}
	e.clients = make(map[string]*ethclient.Client)
}
