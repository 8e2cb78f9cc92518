package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"studynotify/pkg/logx"
)

const pgSchema = `CREATE TABLE IF NOT EXISTS deliveries (
  id          BIGSERIAL PRIMARY KEY,
  at          TIMESTAMPTZ NOT NULL,
  event       TEXT        NOT NULL,
  handle_id   TEXT,
  destination TEXT        NOT NULL,
  priority    TEXT,
  title       TEXT,
  message_id  TEXT,
  attempts    INTEGER     NOT NULL DEFAULT 0,
  err         TEXT
);
CREATE INDEX IF NOT EXISTS deliveries_at ON deliveries(at);`

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pcfg.MaxConns = 5

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info("journal opened", logx.String("host", pcfg.ConnConfig.Host))
	return &postgresStore{pool: pool, log: log}, nil
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *postgresStore) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

func (s *postgresStore) AppendDelivery(ctx context.Context, r DeliveryRecord) error {
	if r.At.IsZero() {
		r.At = time.Now().UTC()
	}
	ctx, cancel := s.connCtx(ctx)
	defer cancel()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO deliveries(at, event, handle_id, destination, priority, title, message_id, attempts, err)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		r.At, r.Event, nullStr(r.HandleID), r.Destination, nullStr(r.Priority),
		nullStr(r.Title), nullStr(r.MessageID), r.Attempts, nullStr(r.Error),
	)
	return err
}

func (s *postgresStore) RecentDeliveries(ctx context.Context, limit int) ([]DeliveryRecord, error) {
	ctx, cancel := s.connCtx(ctx)
	defer cancel()
	rows, err := s.pool.Query(ctx,
		`SELECT at, event, COALESCE(handle_id, ''), destination, COALESCE(priority, ''),
		        COALESCE(title, ''), COALESCE(message_id, ''), attempts, COALESCE(err, '')
		 FROM deliveries ORDER BY id DESC LIMIT $1`, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (DeliveryRecord, error) {
		var r DeliveryRecord
		err := row.Scan(&r.At, &r.Event, &r.HandleID, &r.Destination, &r.Priority,
			&r.Title, &r.MessageID, &r.Attempts, &r.Error)
		return r, err
	})
}
