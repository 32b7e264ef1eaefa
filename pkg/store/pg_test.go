package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stablemesh/cctp-middleware/pkg/pgutil"
)

func newTestPGStore(t *testing.T) *PGStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	db, cleanup := pgutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	pg, err := NewPGStore(db, 100, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, pg.Init(context.Background()))
	return pg
}

func TestPGStoreSaveAndGet(t *testing.T) {
	pg := newTestPGStore(t)

	transfer := makeTransfer("t1", StatusPending)
	transfer.Hook = &HookData{
		Target:   "0x3333333333333333333333333333333333333333",
		CallData: "0xdeadbeef",
		GasLimit: 100000,
	}
	require.NoError(t, pg.Save(transfer))

	got, err := pg.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	require.NotNil(t, got.Hook)
	assert.Equal(t, "0xdeadbeef", got.Hook.CallData)
}

func TestPGStoreGetNotFound(t *testing.T) {
	pg := newTestPGStore(t)

	_, err := pg.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPGStoreUpsertAndListActive(t *testing.T) {
	pg := newTestPGStore(t)

	transfer := makeTransfer("t1", StatusPending)
	require.NoError(t, pg.Save(transfer))

	transfer.Status = StatusBurned
	transfer.BurnTxHash = "0xburn"
	transfer.Nonce = 7
	transfer.MessageHash = "0xmsg"
	require.NoError(t, pg.Save(transfer))

	require.NoError(t, pg.Save(makeTransfer("t2", StatusMinted)))

	got, err := pg.Get("t1")
	require.NoError(t, err)
	assert.Equal(t, StatusBurned, got.Status)
	assert.Equal(t, uint64(7), got.Nonce)

	active, err := pg.ListActive()
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "t1", active[0].ID)

	all, err := pg.ListAll()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestPGStoreDeleteAndPrune(t *testing.T) {
	pg := newTestPGStore(t)

	require.NoError(t, pg.Save(makeTransfer("gone", StatusMinted)))
	require.NoError(t, pg.Delete("gone"))
	_, err := pg.Get("gone")
	assert.ErrorIs(t, err, ErrNotFound)

	old := makeTransfer("old", StatusFailed)
	require.NoError(t, pg.Save(old))
	inflight := makeTransfer("inflight", StatusBurned)
	require.NoError(t, pg.Save(inflight))

	// Backdate both rows past the retention window.
	backdated := time.Now().Add(-48 * time.Hour)
	_, err = pg.db.NewUpdate().
		Model((*transferDao)(nil)).
		Set("updated_at = ?", backdated).
		Where("id IN (?)", "old").
		Exec(context.Background())
	require.NoError(t, err)
	_, err = pg.db.NewUpdate().
		Model((*transferDao)(nil)).
		Set("updated_at = ?", backdated).
		Where("id IN (?)", "inflight").
		Exec(context.Background())
	require.NoError(t, err)

	require.NoError(t, pg.Prune(24*time.Hour))

	_, err = pg.Get("old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = pg.Get("inflight")
	assert.NoError(t, err)
}
