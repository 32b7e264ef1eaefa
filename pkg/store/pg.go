package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// PGStore is the PostgreSQL implementation of Store, backed by bun.
// It shares the soft-failure contract with FileStore: Save logs and swallows
// write errors, and failed reads degrade to ErrNotFound.
type PGStore struct {
	db           *bun.DB
	maxTransfers int
	logger       *zap.Logger
}

// NewPGStore wraps an existing bun connection.
func NewPGStore(db *bun.DB, maxTransfers int, logger *zap.Logger) (*PGStore, error) {
	if maxTransfers <= 0 {
		return nil, fmt.Errorf("max transfers must be positive, got %d", maxTransfers)
	}
	return &PGStore{db: db, maxTransfers: maxTransfers, logger: logger}, nil
}

// Init creates the transfers table if it does not exist.
func (s *PGStore) Init(ctx context.Context) error {
	_, err := s.db.NewCreateTable().
		Model((*transferDao)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create transfers table: %w", err)
	}
	return nil
}

func (s *PGStore) Save(t *Transfer) error {
	ctx := context.Background()
	t.UpdatedAt = time.Now()

	dao := toDao(t)
	_, err := s.db.NewInsert().
		Model(dao).
		On("CONFLICT (id) DO UPDATE").
		Set("status = EXCLUDED.status").
		Set("burn_tx_hash = EXCLUDED.burn_tx_hash").
		Set("mint_tx_hash = EXCLUDED.mint_tx_hash").
		Set("nonce = EXCLUDED.nonce").
		Set("message_hash = EXCLUDED.message_hash").
		Set("attestation = EXCLUDED.attestation").
		Set("use_fast_transfer = EXCLUDED.use_fast_transfer").
		Set("retry_count = EXCLUDED.retry_count").
		Set("last_error = EXCLUDED.last_error").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		s.logger.Error("Failed to save transfer", zap.String("id", t.ID), zap.Error(err))
		return nil
	}

	s.truncate(ctx)
	return nil
}

// truncate keeps only the most recently updated records.
func (s *PGStore) truncate(ctx context.Context) {
	subq := s.db.NewSelect().
		Model((*transferDao)(nil)).
		Column("id").
		OrderExpr("updated_at DESC").
		Limit(s.maxTransfers)

	_, err := s.db.NewDelete().
		Model((*transferDao)(nil)).
		Where("id NOT IN (?)", subq).
		Exec(ctx)
	if err != nil {
		s.logger.Error("Failed to truncate transfers", zap.Error(err))
	}
}

func (s *PGStore) Get(id string) (*Transfer, error) {
	dao := new(transferDao)
	err := s.db.NewSelect().
		Model(dao).
		Where("id = ?", id).
		Scan(context.Background())
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Error("Failed to get transfer", zap.String("id", id), zap.Error(err))
		}
		return nil, ErrNotFound
	}
	return fromDao(dao), nil
}

func (s *PGStore) ListAll() ([]*Transfer, error) {
	return s.list(func(q *bun.SelectQuery) *bun.SelectQuery { return q })
}

func (s *PGStore) ListByStatus(status TransferStatus) ([]*Transfer, error) {
	return s.list(func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("status = ?", string(status))
	})
}

func (s *PGStore) ListActive() ([]*Transfer, error) {
	return s.list(func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("status IN (?)", bun.In([]string{
			string(StatusPending), string(StatusBurned), string(StatusAttested),
		}))
	})
}

func (s *PGStore) list(apply func(*bun.SelectQuery) *bun.SelectQuery) ([]*Transfer, error) {
	var daos []transferDao
	q := s.db.NewSelect().Model(&daos).OrderExpr("updated_at DESC")
	if err := apply(q).Scan(context.Background()); err != nil {
		s.logger.Error("Failed to list transfers", zap.Error(err))
		return nil, nil
	}
	out := make([]*Transfer, len(daos))
	for i := range daos {
		out[i] = fromDao(&daos[i])
	}
	return out, nil
}

func (s *PGStore) Delete(id string) error {
	_, err := s.db.NewDelete().
		Model((*transferDao)(nil)).
		Where("id = ?", id).
		Exec(context.Background())
	if err != nil {
		s.logger.Error("Failed to delete transfer", zap.String("id", id), zap.Error(err))
	}
	return nil
}

func (s *PGStore) Prune(maxAge time.Duration) error {
	cutoff := time.Now().Add(-maxAge)
	res, err := s.db.NewDelete().
		Model((*transferDao)(nil)).
		Where("updated_at < ?", cutoff).
		Where("status IN (?)", bun.In([]string{string(StatusMinted), string(StatusFailed)})).
		Exec(context.Background())
	if err != nil {
		s.logger.Error("Failed to prune transfers", zap.Error(err))
		return nil
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.logger.Info("Pruned old transfers", zap.Int64("removed", n))
	}
	return nil
}

func (s *PGStore) Close() error {
	return s.db.Close()
}
