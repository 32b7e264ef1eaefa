package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestFileStore(t *testing.T, maxTransfers int) (*FileStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "transfers.json")
	fs, err := NewFileStore(path, maxTransfers, zap.NewNop())
	require.NoError(t, err)
	return fs, path
}

func makeTransfer(id string, status TransferStatus) *Transfer {
	now := time.Now()
	return &Transfer{
		ID:                 id,
		SourceChain:        "ethereum",
		DestinationChain:   "base",
		SourceDomain:       0,
		Amount:             "10.5",
		SourceAddress:      "0x1111111111111111111111111111111111111111",
		DestinationAddress: "0x2222222222222222222222222222222222222222",
		Status:             status,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func TestFileStoreSaveAndGet(t *testing.T) {
	fs, _ := newTestFileStore(t, 10)
	defer fs.Close()

	transfer := makeTransfer("t1", StatusPending)
	require.NoError(t, fs.Save(transfer))

	got, err := fs.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.ID)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, "10.5", got.Amount)
}

func TestFileStoreGetNotFound(t *testing.T) {
	fs, _ := newTestFileStore(t, 10)
	defer fs.Close()

	_, err := fs.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreSaveIsUpsert(t *testing.T) {
	fs, _ := newTestFileStore(t, 10)
	defer fs.Close()

	transfer := makeTransfer("t1", StatusPending)
	require.NoError(t, fs.Save(transfer))

	transfer.Status = StatusBurned
	transfer.BurnTxHash = "0xabc"
	require.NoError(t, fs.Save(transfer))

	got, err := fs.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, StatusBurned, got.Status)
	assert.Equal(t, "0xabc", got.BurnTxHash)

	all, err := fs.ListAll()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestFileStoreGetReturnsCopy(t *testing.T) {
	fs, _ := newTestFileStore(t, 10)
	defer fs.Close()

	require.NoError(t, fs.Save(makeTransfer("t1", StatusPending)))

	got, err := fs.Get("t1")
	require.NoError(t, err)
	got.Status = StatusFailed

	again, err := fs.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, again.Status)
}

func TestFileStoreTruncatesOldest(t *testing.T) {
	fs, _ := newTestFileStore(t, 3)
	defer fs.Close()

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		tr := makeTransfer(id, StatusMinted)
		require.NoError(t, fs.Save(tr))
		time.Sleep(2 * time.Millisecond)
	}

	all, err := fs.ListAll()
	require.NoError(t, err)
	require.Len(t, all, 3)

	_, err = fs.Get("a")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = fs.Get("e")
	assert.NoError(t, err)
}

func TestFileStoreListByStatus(t *testing.T) {
	fs, _ := newTestFileStore(t, 10)
	defer fs.Close()

	require.NoError(t, fs.Save(makeTransfer("p1", StatusPending)))
	require.NoError(t, fs.Save(makeTransfer("b1", StatusBurned)))
	require.NoError(t, fs.Save(makeTransfer("m1", StatusMinted)))

	burned, err := fs.ListByStatus(StatusBurned)
	require.NoError(t, err)
	require.Len(t, burned, 1)
	assert.Equal(t, "b1", burned[0].ID)

	active, err := fs.ListActive()
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestFileStorePruneKeepsActiveTransfers(t *testing.T) {
	fs, _ := newTestFileStore(t, 10)
	defer fs.Close()

	old := makeTransfer("old-minted", StatusMinted)
	require.NoError(t, fs.Save(old))
	stale := makeTransfer("old-burned", StatusBurned)
	require.NoError(t, fs.Save(stale))

	// Backdate both records past the retention window.
	fs.mu.Lock()
	for _, tr := range fs.transfers {
		tr.UpdatedAt = time.Now().Add(-48 * time.Hour)
	}
	fs.mu.Unlock()

	require.NoError(t, fs.Prune(24*time.Hour))

	_, err := fs.Get("old-minted")
	assert.ErrorIs(t, err, ErrNotFound)

	// An in-flight transfer is never pruned, no matter how old.
	_, err = fs.Get("old-burned")
	assert.NoError(t, err)
}

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	fs, path := newTestFileStore(t, 10)

	tr := makeTransfer("t1", StatusBurned)
	tr.BurnTxHash = "0xburn"
	tr.Nonce = 42
	tr.MessageHash = "0xmsg"
	require.NoError(t, fs.Save(tr))
	require.NoError(t, fs.Close())

	reopened, err := NewFileStore(path, 10, zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, StatusBurned, got.Status)
	assert.Equal(t, uint64(42), got.Nonce)
	assert.Equal(t, "0xmsg", got.MessageHash)
}

func TestFileStoreToleratesCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transfers.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	fs, err := NewFileStore(path, 10, zap.NewNop())
	require.NoError(t, err)
	defer fs.Close()

	all, err := fs.ListAll()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestNonceSerializesAsString(t *testing.T) {
	tr := makeTransfer("t1", StatusBurned)
	tr.Nonce = 18446744073709551615

	data, err := json.Marshal(tr)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"nonce":"18446744073709551615"`)

	var decoded Transfer
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, uint64(18446744073709551615), decoded.Nonce)
}
