package repository

import (
	"context"
	"database/sql"
	"fmt"
)

type postgresStore struct {
	db *sql.DB
	q  DB
	tx bool
}

// NewStore creates a Postgres backed store
func NewStore(db *sql.DB) Store {
	return &postgresStore{db: db, q: db}
}

func (s *postgresStore) Customers() CustomerRepository { return &customerRepository{db: s.q} }
func (s *postgresStore) Orders() OrderRepository       { return &orderRepository{db: s.q} }
func (s *postgresStore) Segments() SegmentRepository   { return &segmentRepository{db: s.q} }
func (s *postgresStore) Campaigns() CampaignRepository { return &campaignRepository{db: s.q} }
func (s *postgresStore) Logs() LogRepository           { return &logRepository{db: s.q} }

// WithinTx runs fn in a database transaction, committing only when fn succeeds
func (s *postgresStore) WithinTx(ctx context.Context, fn func(Store) error) error {
	if s.tx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&postgresStore{db: s.db, q: tx, tx: true}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
