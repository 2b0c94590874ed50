package payment

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrLedgerUnavailable indicates the ledger dependency is not configured.
var ErrLedgerUnavailable = errors.New("payment: ledger unavailable")

// LedgerEntry is a processor event recorded for exactly-once handling.
type LedgerEntry struct {
	ID          string
	EventType   string
	Payload     []byte
	Processed   bool
	ReceivedAt  time.Time
	ProcessedAt *time.Time
}

// Ledger records processor event ids so each event's side effects run once
// no matter how many times the processor delivers it.
type Ledger interface {
	// Admit claims the event for processing. Exactly one delivery of a
	// given event id is ever admitted; redeliveries return false whether or
	// not the first handler finished. Events admitted but never marked
	// processed are replayed by the reconciliation sweep, not by a retry.
	Admit(ctx context.Context, eventID, eventType string, payload []byte) (bool, error)
	MarkProcessed(ctx context.Context, eventID string) error
	// ListStuck returns admitted-but-unprocessed events older than minAge,
	// oldest first.
	ListStuck(ctx context.Context, minAge time.Duration, limit int) ([]LedgerEntry, error)
}

// NewLedger constructs a Ledger backed by a pgx connection pool.
func NewLedger(pool *pgxpool.Pool) Ledger {
	return &pgLedger{pool: pool}
}

type pgLedger struct {
	pool *pgxpool.Pool
}

func (l *pgLedger) Admit(ctx context.Context, eventID, eventType string, payload []byte) (bool, error) {
	if l == nil || l.pool == nil {
		return false, ErrLedgerUnavailable
	}
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	// The primary key is the admission gate: whichever delivery inserts the
	// row owns the event, everything after it is a duplicate.
	_, err := l.pool.Exec(ctx, `INSERT INTO processor_events (id, event_type, payload) VALUES ($1, $2, $3)`,
		eventID, eventType, payload)
	return admitResult(err)
}

// admitResult maps the admission insert outcome: a unique violation means a
// prior or concurrent delivery already holds the event.
func admitResult(err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return false, nil
	}
	return false, err
}

const uniqueViolation = "23505"

func (l *pgLedger) MarkProcessed(ctx context.Context, eventID string) error {
	if l == nil || l.pool == nil {
		return ErrLedgerUnavailable
	}
	_, err := l.pool.Exec(ctx, `UPDATE processor_events SET processed = TRUE, processed_at = now() WHERE id = $1`, eventID)
	return err
}

func (l *pgLedger) ListStuck(ctx context.Context, minAge time.Duration, limit int) ([]LedgerEntry, error) {
	if l == nil || l.pool == nil {
		return nil, ErrLedgerUnavailable
	}
	if limit < 1 {
		limit = 100
	}
	cutoff := time.Now().Add(-minAge)
	rows, err := l.pool.Query(ctx, `SELECT id, event_type, payload, processed, received_at, processed_at
FROM processor_events
WHERE processed = FALSE AND received_at < $1
ORDER BY received_at ASC
LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]LedgerEntry, 0, limit)
	for rows.Next() {
		var entry LedgerEntry
		if err := rows.Scan(&entry.ID, &entry.EventType, &entry.Payload, &entry.Processed, &entry.ReceivedAt, &entry.ProcessedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
