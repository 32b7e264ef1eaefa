package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	apperrors "github.com/stablemesh/cctp-middleware/pkg/app/errors"
	"github.com/stablemesh/cctp-middleware/pkg/attestation"
	"github.com/stablemesh/cctp-middleware/pkg/registry"
	"github.com/stablemesh/cctp-middleware/pkg/store"
	"github.com/stablemesh/cctp-middleware/pkg/tracker"
)

type handlers struct {
	tracker  *tracker.Tracker
	att      *attestation.Client
	registry *registry.Registry
	logger   *zap.Logger
	validate *validator.Validate
}

func newHandlers(trk *tracker.Tracker, att *attestation.Client, reg *registry.Registry, logger *zap.Logger) *handlers {
	return &handlers{
		tracker:  trk,
		att:      att,
		registry: reg,
		logger:   logger,
		validate: validator.New(),
	}
}

type hookPayload struct {
	Target   string `json:"target" validate:"required"`
	CallData string `json:"callData" validate:"required"`
	GasLimit uint64 `json:"gasLimit"`
}

type createTransferPayload struct {
	SourceChain        string       `json:"sourceChain" validate:"required"`
	DestinationChain   string       `json:"destinationChain" validate:"required"`
	Amount             string       `json:"amount" validate:"required"`
	DestinationAddress string       `json:"destinationAddress" validate:"required"`
	UseFastTransfer    bool         `json:"useFastTransfer"`
	Hook               *hookPayload `json:"hook" validate:"omitempty"`
}

func (h *handlers) createTransfer(w http.ResponseWriter, r *http.Request) {
	var payload createTransferPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, apperrors.BadRequestError(err, "invalid request body"))
		return
	}
	if err := h.validate.Struct(&payload); err != nil {
		h.writeError(w, apperrors.BadRequestError(err, err.Error()))
		return
	}

	req := tracker.CreateRequest{
		SourceChain:        payload.SourceChain,
		DestinationChain:   payload.DestinationChain,
		Amount:             payload.Amount,
		DestinationAddress: payload.DestinationAddress,
		UseFastTransfer:    payload.UseFastTransfer,
	}
	if payload.Hook != nil {
		req.Hook = &store.HookData{
			Target:   payload.Hook.Target,
			CallData: payload.Hook.CallData,
			GasLimit: payload.Hook.GasLimit,
		}
	}

	transfer, err := h.tracker.CreateTransfer(req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, transfer)
}

func (h *handlers) listTransfers(w http.ResponseWriter, _ *http.Request) {
	transfers, err := h.tracker.List()
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"transfers": transfers})
}

func (h *handlers) listActiveTransfers(w http.ResponseWriter, _ *http.Request) {
	transfers, err := h.tracker.ListActive()
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"transfers": transfers})
}

func (h *handlers) getTransfer(w http.ResponseWriter, r *http.Request) {
	transfer, err := h.tracker.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, transfer)
}

func (h *handlers) deleteTransfer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.tracker.Get(id); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.tracker.Delete(id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) executeTransfer(w http.ResponseWriter, r *http.Request) {
	transfer, err := h.tracker.Execute(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, transfer)
}

func (h *handlers) mintTransfer(w http.ResponseWriter, r *http.Request) {
	transfer, err := h.tracker.CompleteMint(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, transfer)
}

func (h *handlers) listNetworks(w http.ResponseWriter, _ *http.Request) {
	keys := h.registry.Keys()
	networks := make([]*registry.Network, 0, len(keys))
	for _, key := range keys {
		if n, err := h.registry.Get(key); err == nil {
			networks = append(networks, n)
		}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"networks": networks})
}

func (h *handlers) attestationHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.att.Health(r.Context()))
}

// transferEvents streams transfer updates as server-sent events until the
// transfer reaches a terminal state or the client disconnects.
func (h *handlers) transferEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, apperrors.GeneralError(errors.New("streaming unsupported")))
		return
	}

	transfer, err := h.tracker.Get(id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	// Subscribe before emitting the snapshot so no update between the two
	// is lost.
	updates, cancel := h.tracker.Bus().Subscribe(id)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeEvent := func(u tracker.Update) bool {
		data, err := json.Marshal(u)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	snapshot := tracker.Update{
		ID:          transfer.ID,
		Status:      transfer.Status,
		Error:       transfer.LastError,
		Attestation: transfer.Attestation,
	}
	if !writeEvent(snapshot) || transfer.Status.Terminal() {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case u, open := <-updates:
			if !open {
				return
			}
			if !writeEvent(u) || u.Status.Terminal() {
				return
			}
		}
	}
}

func (h *handlers) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (h *handlers) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := "Internal Server Error"

	var svcErr *apperrors.ServiceError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
		message = "transfer not found"
	case errors.As(err, &svcErr):
		status = svcErr.StatusCode()
		message = svcErr.Message
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.Error(err))
	} else {
		h.logger.Debug("Request rejected", zap.Int("status", status), zap.Error(err))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
