// Package chain submits CCTP burn and mint transactions and answers
// consumption queries against the message transmitter contracts.
package chain

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/stablemesh/cctp-middleware/pkg/registry"
	"github.com/stablemesh/cctp-middleware/pkg/store"
)

// BurnRequest describes a depositForBurn call on the source chain. A hook
// switches the burn to the caller-restricted variant so only the hook target
// can complete the mint.
type BurnRequest struct {
	Source      *registry.Network
	Destination *registry.Network
	// Amount is in USDC (not base units).
	Amount             decimal.Decimal
	DestinationAddress string
	UseFastTransfer    bool
	Hook               *store.HookData
}

// BurnResult carries the on-chain outcome of a burn.
type BurnResult struct {
	TxHash string
	Nonce  uint64
}

// Executor abstracts transaction submission so the tracker can be tested
// without chain access.
type Executor interface {
	// Burn approves and burns USDC on the source chain and returns the burn
	// transaction hash together with the transmitter nonce assigned to it.
	Burn(ctx context.Context, req BurnRequest) (*BurnResult, error)

	// Mint submits receiveMessage on the destination chain and returns the
	// mint transaction hash.
	Mint(ctx context.Context, network *registry.Network, message, attestation string) (string, error)

	// IsMessageConsumed reports whether the destination transmitter has
	// already processed the message with the given hash.
	IsMessageConsumed(ctx context.Context, network *registry.Network, messageHash string) (bool, error)

	// SenderAddress returns the hex address transactions are sent from.
	SenderAddress() string

	Close()
}
