package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hashicorp/go-bexpr"

	"github.com/roach88/passvault/internal/ir"
)

// NewEvent is an event to append.
type NewEvent struct {
	ID        string
	Kind      string
	Wallet    ir.Address // zero for global events
	Payload   map[string]any
	CreatedAt int64
}

// Event is a stored, hash-chained event.
type Event struct {
	Seq       int64           `json:"seq"`
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Wallet    ir.Address      `json:"wallet"`
	Payload   json.RawMessage `json:"payload"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
	CreatedAt int64           `json:"created_at"`
}

// EventQuery selects events. Filter is a go-bexpr expression evaluated
// against the selectors seq, kind, wallet and payload (for example
// `kind == "TransactionExecuted" and payload.nonce == 3`).
type EventQuery struct {
	Filter string
	Wallet *ir.Address
	Limit  int
}

// eventView is the datum filter expressions are evaluated against.
type eventView struct {
	Seq     int64          `bexpr:"seq"`
	Kind    string         `bexpr:"kind"`
	Wallet  string         `bexpr:"wallet"`
	Payload map[string]any `bexpr:"payload"`
}

// ErrChainBroken is returned by VerifyEventChain when a stored hash does not
// match its recomputation.
var ErrChainBroken = errors.New("event chain broken")

// AppendEvent assigns the next sequence number, chains the event onto the
// previous hash and inserts it.
func (c conn) AppendEvent(ctx context.Context, ev NewEvent) (Event, error) {
	payload, err := ir.MarshalCanonical(ev.Payload)
	if err != nil {
		return Event{}, fmt.Errorf("append event: %w", err)
	}

	var lastSeq int64
	prev := ir.GenesisHash
	err = c.q.QueryRowContext(ctx, `SELECT seq, hash FROM events ORDER BY seq DESC LIMIT 1`).Scan(&lastSeq, &prev)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Event{}, fmt.Errorf("append event: %w", err)
	}

	out := Event{
		Seq:       lastSeq + 1,
		ID:        ev.ID,
		Kind:      ev.Kind,
		Wallet:    ev.Wallet,
		Payload:   payload,
		PrevHash:  prev,
		CreatedAt: ev.CreatedAt,
	}
	out.Hash = ir.EventHash(prev, out.Kind, out.Seq, out.Wallet, out.CreatedAt, payload)

	var wallet any
	if !ev.Wallet.IsZero() {
		wallet = ev.Wallet[:]
	}
	_, err = c.q.ExecContext(ctx, `
		INSERT INTO events (seq, id, kind, wallet, payload, prev_hash, hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, out.Seq, out.ID, out.Kind, wallet, string(payload), out.PrevHash, out.Hash, out.CreatedAt)
	if err != nil {
		return Event{}, fmt.Errorf("append event: %w", err)
	}
	return out, nil
}

// Events returns events in sequence order, applying q.
func (c conn) Events(ctx context.Context, q EventQuery) ([]Event, error) {
	var eval *bexpr.Evaluator
	if q.Filter != "" {
		var err error
		eval, err = bexpr.CreateEvaluator(q.Filter)
		if err != nil {
			return nil, fmt.Errorf("invalid event filter: %w", err)
		}
	}

	query := `SELECT seq, id, kind, wallet, payload, prev_hash, hash, created_at FROM events`
	var args []any
	if q.Wallet != nil {
		query += ` WHERE wallet = ?`
		args = append(args, q.Wallet[:])
	}
	query += ` ORDER BY seq ASC`

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("list events: %w", err)
		}
		if eval != nil {
			match, err := eval.Evaluate(ev.view())
			if err != nil {
				// Selectors missing from this event's payload do not match.
				continue
			}
			if !match {
				continue
			}
		}
		out = append(out, ev)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, rows.Err()
}

// VerifyEventChain recomputes every hash in sequence order and returns the
// number of events checked.
func (c conn) VerifyEventChain(ctx context.Context) (int, error) {
	rows, err := c.q.QueryContext(ctx, `SELECT seq, id, kind, wallet, payload, prev_hash, hash, created_at FROM events ORDER BY seq ASC`)
	if err != nil {
		return 0, fmt.Errorf("verify events: %w", err)
	}
	defer rows.Close()

	prev := ir.GenesisHash
	n := 0
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return n, fmt.Errorf("verify events: %w", err)
		}
		if ev.PrevHash != prev {
			return n, fmt.Errorf("%w: seq %d prev_hash mismatch", ErrChainBroken, ev.Seq)
		}
		if want := ir.EventHash(prev, ev.Kind, ev.Seq, ev.Wallet, ev.CreatedAt, ev.Payload); want != ev.Hash {
			return n, fmt.Errorf("%w: seq %d hash mismatch", ErrChainBroken, ev.Seq)
		}
		prev = ev.Hash
		n++
	}
	return n, rows.Err()
}

func scanEvent(row rowScanner) (Event, error) {
	var ev Event
	var payload string
	err := row.Scan(&ev.Seq, &ev.ID, &ev.Kind, scanNullableAddr(&ev.Wallet), &payload, &ev.PrevHash, &ev.Hash, &ev.CreatedAt)
	ev.Payload = json.RawMessage(payload)
	return ev, err
}

// DecodePayload decodes the canonical payload, keeping numbers exact.
func (ev Event) DecodePayload() (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(ev.Payload))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
}

func (ev Event) view() eventView {
	payload, err := ev.DecodePayload()
	if err != nil {
		payload = map[string]any{}
	}
	v := eventView{Seq: ev.Seq, Kind: ev.Kind, Payload: payload}
	if !ev.Wallet.IsZero() {
		v.Wallet = ev.Wallet.String()
	}
	return v
}
