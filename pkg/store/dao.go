package store

import (
	"time"

	"github.com/uptrace/bun"
)

// transferDao is the bun row model for the transfers table.
type transferDao struct {
	bun.BaseModel `bun:"table:transfers"`

	ID                 string    `bun:"id,pk"`
	SourceChain        string    `bun:"source_chain,notnull"`
	DestinationChain   string    `bun:"destination_chain,notnull"`
	SourceDomain       int64     `bun:"source_domain,notnull"`
	Amount             string    `bun:"amount,notnull"`
	SourceAddress      string    `bun:"source_address,notnull"`
	DestinationAddress string    `bun:"destination_address,notnull"`
	Status             string    `bun:"status,notnull"`
	BurnTxHash         string    `bun:"burn_tx_hash,nullzero"`
	MintTxHash         string    `bun:"mint_tx_hash,nullzero"`
	Nonce              uint64    `bun:"nonce"`
	MessageHash        string    `bun:"message_hash,nullzero"`
	Attestation        string    `bun:"attestation,nullzero"`
	UseFastTransfer    bool      `bun:"use_fast_transfer"`
	HookTarget         string    `bun:"hook_target,nullzero"`
	HookCallData       string    `bun:"hook_call_data,nullzero"`
	HookGasLimit       uint64    `bun:"hook_gas_limit"`
	RetryCount         int       `bun:"retry_count"`
	LastError          string    `bun:"last_error,nullzero"`
	CreatedAt          time.Time `bun:"created_at,notnull"`
	UpdatedAt          time.Time `bun:"updated_at,notnull"`
}

func toDao(t *Transfer) *transferDao {
	dao := &transferDao{
		ID:                 t.ID,
		SourceChain:        t.SourceChain,
		DestinationChain:   t.DestinationChain,
		SourceDomain:       int64(t.SourceDomain),
		Amount:             t.Amount,
		SourceAddress:      t.SourceAddress,
		DestinationAddress: t.DestinationAddress,
		Status:             string(t.Status),
		BurnTxHash:         t.BurnTxHash,
		MintTxHash:         t.MintTxHash,
		Nonce:              t.Nonce,
		MessageHash:        t.MessageHash,
		Attestation:        t.Attestation,
		UseFastTransfer:    t.UseFastTransfer,
		RetryCount:         t.RetryCount,
		LastError:          t.LastError,
		CreatedAt:          t.CreatedAt,
		UpdatedAt:          t.UpdatedAt,
	}
	if t.Hook != nil {
		dao.HookTarget = t.Hook.Target
		dao.HookCallData = t.Hook.CallData
		dao.HookGasLimit = t.Hook.GasLimit
	}
	return dao
}

func fromDao(dao *transferDao) *Transfer {
	t := &Transfer{
		ID:                 dao.ID,
		SourceChain:        dao.SourceChain,
		DestinationChain:   dao.DestinationChain,
		SourceDomain:       uint32(dao.SourceDomain),
		Amount:             dao.Amount,
		SourceAddress:      dao.SourceAddress,
		DestinationAddress: dao.DestinationAddress,
		Status:             TransferStatus(dao.Status),
		BurnTxHash:         dao.BurnTxHash,
		MintTxHash:         dao.MintTxHash,
		Nonce:              dao.Nonce,
		MessageHash:        dao.MessageHash,
		Attestation:        dao.Attestation,
		UseFastTransfer:    dao.UseFastTransfer,
		RetryCount:         dao.RetryCount,
		LastError:          dao.LastError,
		CreatedAt:          dao.CreatedAt,
		UpdatedAt:          dao.UpdatedAt,
	}
	if dao.HookTarget != "" {
		t.Hook = &HookData{
			Target:   dao.HookTarget,
			CallData: dao.HookCallData,
			GasLimit: dao.HookGasLimit,
		}
	}
	return t
}
