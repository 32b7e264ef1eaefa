// Package tracker drives transfers through the burn, attest and mint
// lifecycle and keeps the durable record in sync with chain state.
package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/stablemesh/cctp-middleware/internal/metrics"
	apperrors "github.com/stablemesh/cctp-middleware/pkg/app/errors"
	"github.com/stablemesh/cctp-middleware/pkg/attestation"
	"github.com/stablemesh/cctp-middleware/pkg/chain"
	"github.com/stablemesh/cctp-middleware/pkg/config"
	"github.com/stablemesh/cctp-middleware/pkg/registry"
	"github.com/stablemesh/cctp-middleware/pkg/store"
)

// minTransferAmount is the smallest accepted transfer, in USDC.
var minTransferAmount = decimal.RequireFromString("0.01")

// attestationAPI is the slice of the attestation client the tracker uses.
type attestationAPI interface {
	GetAttestation(ctx context.Context, sourceDomain uint32, burnTxHash string) (*attestation.Result, error)
	GetAttestationByMessageHash(ctx context.Context, sourceDomain uint32, messageHash string) (*attestation.Result, error)
	WaitForAttestation(ctx context.Context, burnTxHash string, sourceDomain uint32, onProgress attestation.ProgressFunc) *attestation.Result
	WaitForFastAttestation(ctx context.Context, messageHash string, sourceDomain uint32, onProgress attestation.ProgressFunc) *attestation.Result
}

// CreateRequest describes a new transfer.
type CreateRequest struct {
	SourceChain        string
	DestinationChain   string
	Amount             string
	DestinationAddress string
	UseFastTransfer    bool
	Hook               *store.HookData
}

// Tracker owns the transfer state machine. All status transitions go through
// it so the store, the event bus and the polling tasks stay consistent.
type Tracker struct {
	cfg      config.TrackerConfig
	store    store.Store
	att      attestationAPI
	executor chain.Executor
	registry *registry.Registry
	bus      *Bus
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pollers map[string]context.CancelFunc
}

// New creates a tracker and resumes polling for transfers that were in
// flight when the process last stopped.
func New(cfg config.TrackerConfig, st store.Store, att attestationAPI, exec chain.Executor, reg *registry.Registry, bus *Bus, logger *zap.Logger) *Tracker {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Tracker{
		cfg:      cfg,
		store:    st,
		att:      att,
		executor: exec,
		registry: reg,
		bus:      bus,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		pollers:  make(map[string]context.CancelFunc),
	}
	t.resume()
	return t
}

// CreateTransfer validates the request and persists a new pending transfer.
// Nothing is submitted on chain until Execute.
func (t *Tracker) CreateTransfer(req CreateRequest) (*store.Transfer, error) {
	src, err := t.registry.Get(req.SourceChain)
	if err != nil {
		return nil, apperrors.BadRequestError(err, err.Error())
	}
	dst, err := t.registry.Get(req.DestinationChain)
	if err != nil {
		return nil, apperrors.BadRequestError(err, err.Error())
	}
	if src.Key == dst.Key {
		return nil, apperrors.BadRequestError(nil, "source and destination must differ")
	}
	if req.DestinationAddress == "" {
		return nil, apperrors.BadRequestError(nil, "destination address is required")
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return nil, apperrors.BadRequestError(err, fmt.Sprintf("invalid amount %q", req.Amount))
	}
	if amount.LessThan(minTransferAmount) {
		return nil, apperrors.BadRequestError(nil, fmt.Sprintf("amount must be at least %s USDC", minTransferAmount))
	}

	if req.Hook != nil && !dst.HooksEnabled {
		return nil, apperrors.BadRequestError(nil, fmt.Sprintf("network %q does not support post-mint hooks", dst.Key))
	}

	fast := req.UseFastTransfer && t.registry.FastTransferSupported(src.Key, dst.Key, req.Amount)

	now := time.Now()
	transfer := &store.Transfer{
		ID:                 uuid.NewString(),
		SourceChain:        src.Key,
		DestinationChain:   dst.Key,
		SourceDomain:       src.Domain,
		Amount:             amount.String(),
		SourceAddress:      t.executor.SenderAddress(),
		DestinationAddress: req.DestinationAddress,
		Status:             store.StatusPending,
		UseFastTransfer:    fast,
		Hook:               req.Hook,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := t.store.Save(transfer); err != nil {
		return nil, err
	}
	metrics.TransfersTotal.WithLabelValues(string(store.StatusPending)).Inc()
	f, _ := amount.Float64()
	metrics.TransferAmount.Observe(f)

	t.publish(transfer, "transfer created")
	t.logger.Info("Transfer created",
		zap.String("id", transfer.ID),
		zap.String("source", src.Key),
		zap.String("destination", dst.Key),
		zap.String("amount", transfer.Amount),
		zap.Bool("fast", fast))
	return transfer, nil
}

// Execute burns on the source chain and starts the attestation poller.
// It is only valid for pending transfers.
func (t *Tracker) Execute(ctx context.Context, id string) (*store.Transfer, error) {
	transfer, err := t.store.Get(id)
	if err != nil {
		return nil, err
	}
	if transfer.Status != store.StatusPending {
		return nil, apperrors.ConflictError(nil, fmt.Sprintf("transfer %s is %s, expected pending", id, transfer.Status))
	}

	src, err := t.registry.Get(transfer.SourceChain)
	if err != nil {
		return nil, err
	}
	dst, err := t.registry.Get(transfer.DestinationChain)
	if err != nil {
		return nil, err
	}

	// Requests that lost fast-transfer eligibility fall back to the
	// standard path rather than fail.
	if transfer.UseFastTransfer && !t.registry.FastTransferSupported(src.Key, dst.Key, transfer.Amount) {
		transfer.UseFastTransfer = false
		if err := t.store.Save(transfer); err != nil {
			return nil, err
		}
	}

	amount, err := decimal.NewFromString(transfer.Amount)
	if err != nil {
		return nil, fmt.Errorf("corrupt amount on transfer %s: %w", id, err)
	}

	result, err := t.executor.Burn(ctx, chain.BurnRequest{
		Source:             src,
		Destination:        dst,
		Amount:             amount,
		DestinationAddress: transfer.DestinationAddress,
		UseFastTransfer:    transfer.UseFastTransfer,
		Hook:               transfer.Hook,
	})
	if err != nil {
		// A dead request context says nothing about the burn itself; the
		// transfer stays pending so the caller can retry.
		if ctx.Err() != nil {
			return nil, apperrors.DependencyError(err, "burn interrupted")
		}
		t.fail(transfer, fmt.Sprintf("burn failed: %v", err))
		return nil, apperrors.DependencyError(err, "burn transaction failed")
	}

	// Nonce and message hash are persisted together with the burn hash so a
	// restart never sees a burned record it cannot poll for. The hook
	// calldata is the message body, matching the on-chain encoding.
	transfer.BurnTxHash = result.TxHash
	transfer.Nonce = result.Nonce
	transfer.MessageHash = chain.MessageHash(
		src.Domain, dst.Domain, result.Nonce,
		src.TokenMessenger, dst.TokenMessenger, chain.HookBody(transfer.Hook),
	)
	transfer.Status = store.StatusBurned
	if err := t.store.Save(transfer); err != nil {
		return nil, err
	}
	metrics.TransfersTotal.WithLabelValues(string(store.StatusBurned)).Inc()
	t.publish(transfer, "burn confirmed")

	t.startPoller(transfer.ID)
	t.logger.Info("Burn confirmed",
		zap.String("id", transfer.ID),
		zap.String("burn_tx", result.TxHash),
		zap.Uint64("nonce", result.Nonce))
	return transfer, nil
}

// CompleteMint waits for the attestation and submits the mint on the
// destination chain. Messages already consumed on the destination resolve
// to minted without a new transaction.
func (t *Tracker) CompleteMint(ctx context.Context, id string) (*store.Transfer, error) {
	transfer, err := t.store.Get(id)
	if err != nil {
		return nil, err
	}
	switch transfer.Status {
	case store.StatusMinted:
		return transfer, nil
	case store.StatusFailed:
		return nil, apperrors.ConflictError(nil, fmt.Sprintf("transfer %s has failed: %s", id, transfer.LastError))
	case store.StatusPending:
		return nil, apperrors.ConflictError(nil, fmt.Sprintf("transfer %s has not been burned yet", id))
	}
	if transfer.BurnTxHash == "" || transfer.MessageHash == "" {
		return nil, apperrors.ConflictError(nil, fmt.Sprintf("transfer %s is missing burn metadata", id))
	}

	dst, err := t.registry.Get(transfer.DestinationChain)
	if err != nil {
		return nil, err
	}

	onProgress := func(attempt, maxAttempts int) {
		t.bus.Publish(Update{
			ID:       transfer.ID,
			Status:   transfer.Status,
			Progress: fmt.Sprintf("%d/%d", attempt, maxAttempts),
			Message:  "waiting for attestation",
		})
	}

	var result *attestation.Result
	if transfer.UseFastTransfer {
		result = t.att.WaitForFastAttestation(ctx, transfer.MessageHash, transfer.SourceDomain, onProgress)
	} else {
		result = t.att.WaitForAttestation(ctx, transfer.BurnTxHash, transfer.SourceDomain, onProgress)
	}
	if result.Status != attestation.StatusComplete {
		// A canceled wait (client disconnect, request timeout) is not a
		// transfer failure; the attestation may still arrive and the poller
		// keeps watching for it.
		if ctx.Err() != nil {
			return nil, apperrors.DependencyError(ctx.Err(), "attestation wait interrupted")
		}
		t.fail(transfer, result.Error)
		return nil, apperrors.DependencyError(nil, fmt.Sprintf("attestation failed: %s", result.Error))
	}

	if transfer.Status != store.StatusAttested {
		transfer.Status = store.StatusAttested
		transfer.Attestation = result.Attestation
		if err := t.store.Save(transfer); err != nil {
			return nil, err
		}
		metrics.TransfersTotal.WithLabelValues(string(store.StatusAttested)).Inc()
		t.publish(transfer, "attestation received")
	}

	consumed, err := t.executor.IsMessageConsumed(ctx, dst, transfer.MessageHash)
	if err != nil {
		t.logger.Warn("Consumption check failed, attempting mint",
			zap.String("id", id), zap.Error(err))
	}
	if consumed {
		transfer.Status = store.StatusMinted
		if err := t.store.Save(transfer); err != nil {
			return nil, err
		}
		metrics.TransfersTotal.WithLabelValues(string(store.StatusMinted)).Inc()
		t.publish(transfer, "message already consumed on destination")
		t.stopPoller(id)
		return transfer, nil
	}

	mintTx, err := t.executor.Mint(ctx, dst, result.Message, result.Attestation)
	if err != nil {
		t.fail(transfer, fmt.Sprintf("mint failed: %v", err))
		return nil, apperrors.DependencyError(err, "mint transaction failed")
	}

	transfer.MintTxHash = mintTx
	transfer.Status = store.StatusMinted
	if err := t.store.Save(transfer); err != nil {
		return nil, err
	}
	metrics.TransfersTotal.WithLabelValues(string(store.StatusMinted)).Inc()
	t.publish(transfer, "mint confirmed")
	t.stopPoller(id)

	t.logger.Info("Mint confirmed",
		zap.String("id", id),
		zap.String("mint_tx", mintTx))
	return transfer, nil
}

// Get returns a transfer by id.
func (t *Tracker) Get(id string) (*store.Transfer, error) {
	return t.store.Get(id)
}

// List returns all tracked transfers.
func (t *Tracker) List() ([]*store.Transfer, error) {
	return t.store.ListAll()
}

// ListActive returns the transfers that still have work in flight.
func (t *Tracker) ListActive() ([]*store.Transfer, error) {
	return t.store.ListActive()
}

// Delete stops any poller for the transfer and removes the record.
func (t *Tracker) Delete(id string) error {
	t.stopPoller(id)
	return t.store.Delete(id)
}

// Bus exposes the update bus for event subscribers.
func (t *Tracker) Bus() *Bus {
	return t.bus
}

// resume restarts attestation pollers for transfers that were burned or
// attested before the last shutdown.
func (t *Tracker) resume() {
	active, err := t.store.ListActive()
	if err != nil {
		t.logger.Error("Failed to list active transfers on startup", zap.Error(err))
		return
	}
	resumed := 0
	for _, transfer := range active {
		if transfer.Status == store.StatusPending || transfer.BurnTxHash == "" {
			continue
		}
		t.startPoller(transfer.ID)
		resumed++
	}
	if resumed > 0 {
		t.logger.Info("Resumed transfer polling", zap.Int("count", resumed))
	}
}

func (t *Tracker) startPoller(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, running := t.pollers[id]; running {
		return
	}
	ctx, cancel := context.WithCancel(t.ctx)
	t.pollers[id] = cancel
	metrics.ActivePollers.Inc()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer metrics.ActivePollers.Dec()
		t.poll(ctx, id)
	}()
}

func (t *Tracker) stopPoller(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cancel, ok := t.pollers[id]; ok {
		cancel()
		delete(t.pollers, id)
	}
}

// poll checks the attestation service on a fixed interval until the
// transfer reaches attested or a terminal state. Lookup errors count
// against the retry ceiling; a still-pending attestation does not.
func (t *Tracker) poll(ctx context.Context, id string) {
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		transfer, err := t.store.Get(id)
		if err != nil {
			t.logger.Warn("Poller lost its transfer", zap.String("id", id), zap.Error(err))
			t.stopPoller(id)
			return
		}
		if !transfer.Active() || transfer.Status == store.StatusAttested {
			t.stopPoller(id)
			return
		}

		var result *attestation.Result
		if transfer.UseFastTransfer {
			result, err = t.att.GetAttestationByMessageHash(ctx, transfer.SourceDomain, transfer.MessageHash)
		} else {
			result, err = t.att.GetAttestation(ctx, transfer.SourceDomain, transfer.BurnTxHash)
		}

		if err != nil {
			transfer.RetryCount++
			transfer.LastError = err.Error()
			if transfer.RetryCount > t.cfg.MaxRetries {
				t.fail(transfer, "max retry attempts exceeded")
				t.stopPoller(id)
				return
			}
			if err := t.store.Save(transfer); err != nil {
				t.logger.Error("Failed to record poll retry", zap.String("id", id), zap.Error(err))
			}
			continue
		}

		switch result.Status {
		case attestation.StatusComplete:
			transfer.Attestation = result.Attestation

			dst, derr := t.registry.Get(transfer.DestinationChain)
			if derr == nil {
				if consumed, cerr := t.executor.IsMessageConsumed(ctx, dst, transfer.MessageHash); cerr == nil && consumed {
					transfer.Status = store.StatusMinted
					if err := t.store.Save(transfer); err == nil {
						metrics.TransfersTotal.WithLabelValues(string(store.StatusMinted)).Inc()
						t.publish(transfer, "message already consumed on destination")
					}
					t.stopPoller(id)
					return
				}
			}

			transfer.Status = store.StatusAttested
			if err := t.store.Save(transfer); err == nil {
				metrics.TransfersTotal.WithLabelValues(string(store.StatusAttested)).Inc()
				t.publish(transfer, "attestation received")
			}
			t.stopPoller(id)
			return
		case attestation.StatusFailed:
			t.fail(transfer, result.Error)
			t.stopPoller(id)
			return
		}
		// Still pending, keep polling.
	}
}

// fail moves a transfer to the failed state and records the cause.
func (t *Tracker) fail(transfer *store.Transfer, cause string) {
	transfer.Status = store.StatusFailed
	transfer.LastError = cause
	if err := t.store.Save(transfer); err != nil {
		t.logger.Error("Failed to persist failure", zap.String("id", transfer.ID), zap.Error(err))
	}
	metrics.TransfersTotal.WithLabelValues(string(store.StatusFailed)).Inc()
	metrics.ErrorsTotal.WithLabelValues("tracker", "transfer_failed").Inc()
	t.bus.Publish(Update{
		ID:     transfer.ID,
		Status: store.StatusFailed,
		Error:  cause,
	})
	t.logger.Error("Transfer failed",
		zap.String("id", transfer.ID),
		zap.String("cause", cause))
}

func (t *Tracker) publish(transfer *store.Transfer, message string) {
	txHash := transfer.MintTxHash
	if txHash == "" {
		txHash = transfer.BurnTxHash
	}
	t.bus.Publish(Update{
		ID:          transfer.ID,
		Status:      transfer.Status,
		Message:     message,
		Error:       transfer.LastError,
		TxHash:      txHash,
		Attestation: transfer.Attestation,
	})
}

// Close stops all pollers and shuts down the bus.
func (t *Tracker) Close() {
	t.cancel()
	t.wg.Wait()

	t.mu.Lock()
	t.pollers = make(map[string]context.CancelFunc)
	t.mu.Unlock()

	t.bus.Close()
}
