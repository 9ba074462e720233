package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Event is one entry in the append-only activity log (call created, ring
// viewed, call accepted, sale marked, ...).
type Event struct {
	ID     string
	Type   string
	CallID string
	At     time.Time
	Amount *float64
	UserID string
}

type Sale struct {
	ID     string
	CallID string
	Amount float64
	Note   string
	At     time.Time
	UserID string
}

func (s *Store) AppendEvent(ctx context.Context, e Event) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO events (event_id, type, call_id, at, amount, user_id)
		VALUES (?, ?, ?, ?, ?, ?)`, e.ID, e.Type, e.CallID, e.At.UnixMilli(), e.Amount, e.UserID)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListEvents returns the most recent events, oldest first.
func (s *Store) ListEvents(ctx context.Context, limit int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT event_id, type, call_id, at, amount, user_id
		FROM (SELECT * FROM events ORDER BY at DESC LIMIT ?) ORDER BY at ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var (
			e      Event
			at     int64
			amount sql.NullFloat64
		)
		if err := rows.Scan(&e.ID, &e.Type, &e.CallID, &at, &amount, &e.UserID); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.At = time.UnixMilli(at)
		if amount.Valid {
			e.Amount = &amount.Float64
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) AddSale(ctx context.Context, sale Sale) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO sales (sale_id, call_id, amount, note, at, user_id)
		VALUES (?, ?, ?, ?, ?, ?)`, sale.ID, sale.CallID, sale.Amount, sale.Note, sale.At.UnixMilli(), sale.UserID)
	if err != nil {
		return fmt.Errorf("add sale: %w", err)
	}
	return nil
}

func (s *Store) ListSales(ctx context.Context) ([]Sale, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT sale_id, call_id, amount, note, at, user_id
		FROM sales ORDER BY at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list sales: %w", err)
	}
	defer rows.Close()
	var out []Sale
	for rows.Next() {
		var (
			sale Sale
			at   int64
		)
		if err := rows.Scan(&sale.ID, &sale.CallID, &sale.Amount, &sale.Note, &at, &sale.UserID); err != nil {
			return nil, fmt.Errorf("scan sale: %w", err)
		}
		sale.At = time.UnixMilli(at)
		out = append(out, sale)
	}
	return out, rows.Err()
}
