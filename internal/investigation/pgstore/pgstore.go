// Package pgstore provides a PostgreSQL implementation of
// investigation.Store. Every save writes a new immutable version row; the
// latest version is the current state.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/inquest/internal/investigation"
)

var tracer = otel.Tracer("github.com/linnemanlabs/inquest/internal/investigation/pgstore")

//go:embed schema.sql
var schema string

// Store persists versioned investigation state in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on an existing pool and returns a ready Store. The
// pool stays owned by the caller.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Save inserts the next version row for the investigation and returns the
// assigned version.
func (s *Store) Save(ctx context.Context, st *investigation.State) (int64, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Save", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	doc, err := json.Marshal(st)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("marshal state: %w", err)
	}

	var completedAt any
	if !st.CompletedAt.IsZero() {
		completedAt = st.CompletedAt
	}

	// Version assignment and insert in one statement keeps concurrent saves
	// of the same investigation append-only.
	query := `INSERT INTO investigations (
		investigation_id, version, transaction_id, status, severity, confidence,
		state, started_at, completed_at
	)
	SELECT $1, COALESCE(MAX(version), 0) + 1, $2, $3, $4, $5, $6, $7, $8
	FROM investigations WHERE investigation_id = $1
	RETURNING version`

	var version int64
	err = s.pool.QueryRow(ctx, query,
		st.InvestigationID, st.TransactionID, string(st.Status), string(st.Severity),
		st.ConfidenceScore, doc, st.StartedAt, completedAt,
	).Scan(&version)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("insert version: %w", err)
	}
	return version, nil
}

// Get retrieves the latest version by investigation ID.
func (s *Store) Get(ctx context.Context, id string) (*investigation.State, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Get", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT state FROM investigations
		WHERE investigation_id = $1 ORDER BY version DESC LIMIT 1`
	st, err := s.scanState(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if st == nil {
		return nil, false, nil
	}
	return st, true, nil
}

// GetByTransaction retrieves the latest state for a transaction.
func (s *Store) GetByTransaction(ctx context.Context, transactionID string) (*investigation.State, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.GetByTransaction", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT state FROM investigations
		WHERE transaction_id = $1 ORDER BY saved_at DESC, version DESC LIMIT 1`
	st, err := s.scanState(s.pool.QueryRow(ctx, query, transactionID))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if st == nil {
		return nil, false, nil
	}
	return st, true, nil
}

// List returns the latest version of each investigation, most recent first.
func (s *Store) List(ctx context.Context, limit int) ([]*investigation.State, error) {
	ctx, span := tracer.Start(ctx, "pgstore.List", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	if limit <= 0 {
		limit = 50
	}
	query := `SELECT state FROM (
			SELECT DISTINCT ON (investigation_id) state, started_at
			FROM investigations
			ORDER BY investigation_id, version DESC
		) latest
		ORDER BY started_at DESC LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query investigations: %w", err)
	}
	defer rows.Close()

	var out []*investigation.State
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan state: %w", err)
		}
		var st investigation.State
		if err := json.Unmarshal(doc, &st); err != nil {
			return nil, fmt.Errorf("unmarshal state: %w", err)
		}
		out = append(out, &st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate investigations: %w", err)
	}
	return out, nil
}

// scanState scans one state document row. Returns (nil, nil) when no row is
// found.
func (s *Store) scanState(row pgx.Row) (*investigation.State, error) {
	var doc []byte
	if err := row.Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan: %w", err)
	}
	var st investigation.State
	if err := json.Unmarshal(doc, &st); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return &st, nil
}
