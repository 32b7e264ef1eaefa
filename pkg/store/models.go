package store

import (
	"time"
)

// TransferStatus represents the current state of a cross-chain transfer
type TransferStatus string

const (
	StatusPending  TransferStatus = "pending"
	StatusBurned   TransferStatus = "burned"
	StatusAttested TransferStatus = "attested"
	StatusMinted   TransferStatus = "minted"
	StatusFailed   TransferStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s TransferStatus) Terminal() bool {
	return s == StatusMinted || s == StatusFailed
}

// HookData describes an optional post-mint call on the destination chain.
type HookData struct {
	Target   string `json:"target"`
	CallData string `json:"callData"`
	GasLimit uint64 `json:"gasLimit"`
}

// Transfer represents a cross-chain USDC transfer tracked through the
// burn / attest / mint lifecycle. Nonce is serialized as a decimal string
// so the record survives JSON consumers with unsafe integer ranges.
type Transfer struct {
	ID                 string         `json:"id"`
	SourceChain        string         `json:"sourceChain"`
	DestinationChain   string         `json:"destinationChain"`
	SourceDomain       uint32         `json:"sourceDomain"`
	Amount             string         `json:"amount"`
	SourceAddress      string         `json:"sourceAddress"`
	DestinationAddress string         `json:"destinationAddress"`
	Status             TransferStatus `json:"status"`
	BurnTxHash         string         `json:"burnTxHash,omitempty"`
	MintTxHash         string         `json:"mintTxHash,omitempty"`
	Nonce              uint64         `json:"nonce,string"`
	MessageHash        string         `json:"messageHash,omitempty"`
	Attestation        string         `json:"attestation,omitempty"`
	UseFastTransfer    bool           `json:"useFastTransfer,omitempty"`
	Hook               *HookData      `json:"hook,omitempty"`
	RetryCount         int            `json:"retryCount,omitempty"`
	LastError          string         `json:"lastError,omitempty"`
	CreatedAt          time.Time      `json:"createdAt"`
	UpdatedAt          time.Time      `json:"updatedAt"`
}

// Active reports whether the transfer still has work in flight.
func (t *Transfer) Active() bool {
	return t.Status == StatusPending || t.Status == StatusBurned || t.Status == StatusAttested
}

// Clone returns a deep copy so callers can mutate without racing the store.
func (t *Transfer) Clone() *Transfer {
	c := *t
	if t.Hook != nil {
		h := *t.Hook
		c.Hook = &h
	}
	return &c
}
