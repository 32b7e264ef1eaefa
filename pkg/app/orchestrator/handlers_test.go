package orchestrator

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stablemesh/cctp-middleware/pkg/attestation"
	"github.com/stablemesh/cctp-middleware/pkg/chain"
	"github.com/stablemesh/cctp-middleware/pkg/config"
	"github.com/stablemesh/cctp-middleware/pkg/registry"
	"github.com/stablemesh/cctp-middleware/pkg/store"
	"github.com/stablemesh/cctp-middleware/pkg/tracker"
)

// stubAttestation resolves every wait immediately.
type stubAttestation struct{}

func (stubAttestation) GetAttestation(context.Context, uint32, string) (*attestation.Result, error) {
	return &attestation.Result{Status: attestation.StatusPending}, nil
}

func (stubAttestation) GetAttestationByMessageHash(context.Context, uint32, string) (*attestation.Result, error) {
	return &attestation.Result{Status: attestation.StatusPending}, nil
}

func (stubAttestation) WaitForAttestation(context.Context, string, uint32, attestation.ProgressFunc) *attestation.Result {
	return &attestation.Result{Status: attestation.StatusComplete, Attestation: "0xatt", Message: "0xmsg"}
}

func (stubAttestation) WaitForFastAttestation(context.Context, string, uint32, attestation.ProgressFunc) *attestation.Result {
	return &attestation.Result{Status: attestation.StatusComplete, Attestation: "0xatt", Message: "0xmsg"}
}

// stubExecutor succeeds without touching a chain.
type stubExecutor struct{}

func (stubExecutor) Burn(context.Context, chain.BurnRequest) (*chain.BurnResult, error) {
	return &chain.BurnResult{TxHash: "0xburntx", Nonce: 5}, nil
}

func (stubExecutor) Mint(context.Context, *registry.Network, string, string) (string, error) {
	return "0xminttx", nil
}

func (stubExecutor) IsMessageConsumed(context.Context, *registry.Network, string) (bool, error) {
	return false, nil
}

func (stubExecutor) SenderAddress() string {
	return "0x1111111111111111111111111111111111111111"
}

func (stubExecutor) Close() {}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	fs, err := store.NewFileStore(filepath.Join(t.TempDir(), "transfers.json"), 100, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close() })

	reg, err := registry.New(nil)
	require.NoError(t, err)

	trkCfg := config.TrackerConfig{PollInterval: time.Hour, MaxRetries: 20}
	trk := tracker.New(trkCfg, fs, stubAttestation{}, stubExecutor{}, reg, tracker.NewBus(), zap.NewNop())
	t.Cleanup(trk.Close)

	attClient := attestation.NewClient(config.AttestationConfig{
		BaseURL:        "http://127.0.0.1:0",
		RequestTimeout: time.Second,
	}, zap.NewNop())

	s := &Server{cfg: &config.Config{}}
	router := s.newRouter(trk, attClient, reg, zap.NewNop())

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	return resp
}

func decodeTransfer(t *testing.T, resp *http.Response) store.Transfer {
	t.Helper()
	defer resp.Body.Close()
	var transfer store.Transfer
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&transfer))
	return transfer
}

const validPayload = `{
	"sourceChain": "ethereum",
	"destinationChain": "base",
	"amount": "12.5",
	"destinationAddress": "0x2222222222222222222222222222222222222222"
}`

func TestCreateTransferEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/v1/transfers", validPayload)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	transfer := decodeTransfer(t, resp)
	assert.NotEmpty(t, transfer.ID)
	assert.Equal(t, store.StatusPending, transfer.Status)
	assert.Equal(t, "12.5", transfer.Amount)
}

func TestCreateTransferRejectsBadInput(t *testing.T) {
	srv := newTestServer(t)

	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"missing fields", `{"sourceChain": "ethereum"}`},
		{"unknown chain", strings.Replace(validPayload, "ethereum", "nope", 1)},
		{"same chains", strings.Replace(validPayload, `"base"`, `"ethereum"`, 1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+"/api/v1/transfers", tc.body)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestTransferLifecycleEndpoints(t *testing.T) {
	srv := newTestServer(t)

	created := decodeTransfer(t, postJSON(t, srv.URL+"/api/v1/transfers", validPayload))

	resp := postJSON(t, srv.URL+"/api/v1/transfers/"+created.ID+"/execute", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	executed := decodeTransfer(t, resp)
	assert.Equal(t, store.StatusBurned, executed.Status)
	assert.Equal(t, "0xburntx", executed.BurnTxHash)
	assert.Equal(t, uint64(5), executed.Nonce)

	// Executing again conflicts with the current state.
	resp = postJSON(t, srv.URL+"/api/v1/transfers/"+created.ID+"/execute", "")
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/api/v1/transfers/"+created.ID+"/mint", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	minted := decodeTransfer(t, resp)
	assert.Equal(t, store.StatusMinted, minted.Status)
	assert.Equal(t, "0xminttx", minted.MintTxHash)

	getResp, err := http.Get(srv.URL + "/api/v1/transfers/" + created.ID)
	require.NoError(t, err)
	got := decodeTransfer(t, getResp)
	assert.Equal(t, store.StatusMinted, got.Status)
}

func TestGetTransferNotFound(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/transfers/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListTransferEndpoints(t *testing.T) {
	srv := newTestServer(t)

	first := decodeTransfer(t, postJSON(t, srv.URL+"/api/v1/transfers", validPayload))
	second := decodeTransfer(t, postJSON(t, srv.URL+"/api/v1/transfers", validPayload))
	_ = first

	// Drive the second transfer to a terminal state.
	resp := postJSON(t, srv.URL+"/api/v1/transfers/"+second.ID+"/execute", "")
	resp.Body.Close()
	resp = postJSON(t, srv.URL+"/api/v1/transfers/"+second.ID+"/mint", "")
	resp.Body.Close()

	var listing struct {
		Transfers []store.Transfer `json:"transfers"`
	}

	allResp, err := http.Get(srv.URL + "/api/v1/transfers")
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(allResp.Body).Decode(&listing))
	allResp.Body.Close()
	assert.Len(t, listing.Transfers, 2)

	activeResp, err := http.Get(srv.URL + "/api/v1/transfers/active")
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(activeResp.Body).Decode(&listing))
	activeResp.Body.Close()
	require.Len(t, listing.Transfers, 1)
	assert.Equal(t, first.ID, listing.Transfers[0].ID)
}

func TestDeleteTransferEndpoint(t *testing.T) {
	srv := newTestServer(t)

	created := decodeTransfer(t, postJSON(t, srv.URL+"/api/v1/transfers", validPayload))

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/transfers/"+created.ID, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	getResp, err := http.Get(srv.URL + "/api/v1/transfers/" + created.ID)
	require.NoError(t, err)
	getResp.Body.Close()
	assert.Equal(t, http.StatusNotFound, getResp.StatusCode)

	req, err = http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/transfers/nope", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListNetworksEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/networks")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var listing struct {
		Networks []registry.Network `json:"networks"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listing))
	assert.Len(t, listing.Networks, 4)
}

func TestAttestationHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/attestation/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health attestation.HealthStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{"/health", "/ready"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestTransferEventsStreamEndsOnTerminalState(t *testing.T) {
	srv := newTestServer(t)

	created := decodeTransfer(t, postJSON(t, srv.URL+"/api/v1/transfers", validPayload))

	resp := postJSON(t, srv.URL+"/api/v1/transfers/"+created.ID+"/execute", "")
	resp.Body.Close()
	resp = postJSON(t, srv.URL+"/api/v1/transfers/"+created.ID+"/mint", "")
	resp.Body.Close()

	// The transfer is terminal, so the stream emits the snapshot and ends.
	eventsResp, err := http.Get(srv.URL + "/api/v1/transfers/" + created.ID + "/events")
	require.NoError(t, err)
	defer eventsResp.Body.Close()
	require.Equal(t, http.StatusOK, eventsResp.StatusCode)
	assert.Equal(t, "text/event-stream", eventsResp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(eventsResp.Body)
	var events []tracker.Update
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var u tracker.Update
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &u))
		events = append(events, u)
	}
	require.Len(t, events, 1)
	assert.Equal(t, store.StatusMinted, events[0].Status)
}

func TestTransferEventsUnknownTransfer(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/transfers/nope/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
