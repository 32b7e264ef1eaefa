package tracker

import (
	"context"

	"github.com/stablemesh/cctp-middleware/pkg/attestation"
	"github.com/stablemesh/cctp-middleware/pkg/chain"
	"github.com/stablemesh/cctp-middleware/pkg/registry"
)

// MockAttestationAPI is a mock implementation of attestationAPI
type MockAttestationAPI struct {
	GetAttestationFunc              func(ctx context.Context, sourceDomain uint32, burnTxHash string) (*attestation.Result, error)
	GetAttestationByMessageHashFunc func(ctx context.Context, sourceDomain uint32, messageHash string) (*attestation.Result, error)
	WaitForAttestationFunc          func(ctx context.Context, burnTxHash string, sourceDomain uint32, onProgress attestation.ProgressFunc) *attestation.Result
	WaitForFastAttestationFunc      func(ctx context.Context, messageHash string, sourceDomain uint32, onProgress attestation.ProgressFunc) *attestation.Result
}

func (m *MockAttestationAPI) GetAttestation(ctx context.Context, sourceDomain uint32, burnTxHash string) (*attestation.Result, error) {
	if m.GetAttestationFunc != nil {
		return m.GetAttestationFunc(ctx, sourceDomain, burnTxHash)
	}
	return &attestation.Result{Status: attestation.StatusPending}, nil
}

func (m *MockAttestationAPI) GetAttestationByMessageHash(ctx context.Context, sourceDomain uint32, messageHash string) (*attestation.Result, error) {
	if m.GetAttestationByMessageHashFunc != nil {
		return m.GetAttestationByMessageHashFunc(ctx, sourceDomain, messageHash)
	}
	return &attestation.Result{Status: attestation.StatusPending}, nil
}

func (m *MockAttestationAPI) WaitForAttestation(ctx context.Context, burnTxHash string, sourceDomain uint32, onProgress attestation.ProgressFunc) *attestation.Result {
	if m.WaitForAttestationFunc != nil {
		return m.WaitForAttestationFunc(ctx, burnTxHash, sourceDomain, onProgress)
	}
	return &attestation.Result{Status: attestation.StatusPending}
}

func (m *MockAttestationAPI) WaitForFastAttestation(ctx context.Context, messageHash string, sourceDomain uint32, onProgress attestation.ProgressFunc) *attestation.Result {
	if m.WaitForFastAttestationFunc != nil {
		return m.WaitForFastAttestationFunc(ctx, messageHash, sourceDomain, onProgress)
	}
	return &attestation.Result{Status: attestation.StatusPending}
}

// MockExecutor is a mock implementation of chain.Executor
type MockExecutor struct {
	BurnFunc              func(ctx context.Context, req chain.BurnRequest) (*chain.BurnResult, error)
	MintFunc              func(ctx context.Context, network *registry.Network, message, attestation string) (string, error)
	IsMessageConsumedFunc func(ctx context.Context, network *registry.Network, messageHash string) (bool, error)
	SenderAddressFunc     func() string
}

func (m *MockExecutor) Burn(ctx context.Context, req chain.BurnRequest) (*chain.BurnResult, error) {
	if m.BurnFunc != nil {
		return m.BurnFunc(ctx, req)
	}
	return &chain.BurnResult{TxHash: "0xburn", Nonce: 1}, nil
}

func (m *MockExecutor) Mint(ctx context.Context, network *registry.Network, message, attestation string) (string, error) {
	if m.MintFunc != nil {
		return m.MintFunc(ctx, network, message, attestation)
	}
	return "0xmint", nil
}

func (m *MockExecutor) IsMessageConsumed(ctx context.Context, network *registry.Network, messageHash string) (bool, error) {
	if m.IsMessageConsumedFunc != nil {
		return m.IsMessageConsumedFunc(ctx, network, messageHash)
	}
	return false, nil
}

func (m *MockExecutor) SenderAddress() string {
	if m.SenderAddressFunc != nil {
		return m.SenderAddressFunc()
	}
	return "0x1111111111111111111111111111111111111111"
}

func (m *MockExecutor) Close() {}
