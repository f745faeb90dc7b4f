// Package vecstore backs the similarity engine with PostgreSQL: pgvector
// nearest-neighbor search over transaction embeddings plus the attribute
// queries against the payment schema. Vectors travel as pgvector text
// literals, so no extra driver codec is needed.
package vecstore

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/inquest/internal/similarity"
	"github.com/linnemanlabs/inquest/internal/txn"
)

var tracer = otel.Tracer("github.com/linnemanlabs/inquest/internal/vecstore")

//go:embed schema.sql
var schemaTemplate string

// DefaultDim matches OpenAI text-embedding-3-small.
const DefaultDim = 1536

// Store implements similarity.VectorStore and similarity.AttributeSearcher
// over one pgx pool.
type Store struct {
	pool *pgxpool.Pool
	dim  int
}

// New applies the embeddings schema for the given vector dimension and
// returns a ready Store. The pool stays owned by the caller.
func New(ctx context.Context, pool *pgxpool.Pool, dim int) (*Store, error) {
	if dim <= 0 {
		dim = DefaultDim
	}
	if _, err := pool.Exec(ctx, fmt.Sprintf(schemaTemplate, dim)); err != nil {
		return nil, fmt.Errorf("apply embeddings schema: %w", err)
	}
	return &Store{pool: pool, dim: dim}, nil
}

// Upsert writes or replaces the embedding row for a transaction.
func (s *Store) Upsert(ctx context.Context, t txn.Transaction, vector []float32) error {
	ctx, span := tracer.Start(ctx, "vecstore.Upsert", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	if len(vector) != s.dim {
		err := fmt.Errorf("vector dimension %d, index expects %d", len(vector), s.dim)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	query := `INSERT INTO transaction_embeddings (
			transaction_id, card_id, merchant_id, merchant_name, merchant_category,
			amount, currency, decision, card_country, ip_country, device_id, ts,
			three_ds_success, device_trusted, avs_match, cvv_match, tokenized,
			recurring_customer, cardholder_present, known_merchant, embedding
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21::vector)
		ON CONFLICT (transaction_id) DO UPDATE SET embedding = EXCLUDED.embedding`

	_, err := s.pool.Exec(ctx, query,
		t.ID, t.CardID, t.MerchantID, t.MerchantName, t.MerchantCategory,
		t.Amount, t.Currency, string(t.Decision), t.CardCountry, t.IPCountry,
		t.DeviceID, t.Timestamp,
		t.ThreeDSSuccess, t.DeviceTrusted, t.AVSMatch, t.CVVMatch, t.Tokenized,
		t.RecurringCustomer, t.CardholderPresent, t.KnownMerchant,
		VectorLiteral(vector),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upsert embedding: %w", err)
	}
	return nil
}

// Search returns the nearest neighbors by cosine similarity within the
// window, best first.
func (s *Store) Search(ctx context.Context, vector []float32, since time.Time, limit int) ([]similarity.Candidate, error) {
	ctx, span := tracer.Start(ctx, "vecstore.Search", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	if len(vector) != s.dim {
		err := fmt.Errorf("vector dimension %d, index expects %d", len(vector), s.dim)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	query := `SELECT ` + embeddingColumns + `,
			1 - (embedding <=> $1::vector) AS score
		FROM transaction_embeddings
		WHERE ts >= $2
		ORDER BY embedding <=> $1::vector
		LIMIT $3`

	rows, err := s.pool.Query(ctx, query, VectorLiteral(vector), since, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()
	return scanCandidates(rows)
}

// SearchByAttributes returns candidates sharing the card or merchant, scored
// by which identifier matched rather than by vector distance.
func (s *Store) SearchByAttributes(ctx context.Context, cardID, merchantID string, since time.Time, limit int) ([]similarity.Candidate, error) {
	ctx, span := tracer.Start(ctx, "vecstore.SearchByAttributes", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + txnColumns + `,
			CASE WHEN card_id = $1 THEN 0.8 ELSE 0.6 END AS score
		FROM transactions
		WHERE (card_id = $1 OR merchant_id = $2) AND ts >= $3
		ORDER BY score DESC, ts DESC
		LIMIT $4`

	rows, err := s.pool.Query(ctx, query, cardID, merchantID, since, limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("attribute search: %w", err)
	}
	defer rows.Close()
	return scanCandidates(rows)
}

const txnColumns = `id, card_id, merchant_id, merchant_name, merchant_category, amount, currency,
	decision, card_country, ip_country, device_id, ts,
	three_ds_success, device_trusted, avs_match, cvv_match, tokenized,
	recurring_customer, cardholder_present, known_merchant`

const embeddingColumns = `transaction_id, card_id, merchant_id, merchant_name, merchant_category,
	amount, currency, decision, card_country, ip_country, device_id, ts,
	three_ds_success, device_trusted, avs_match, cvv_match, tokenized,
	recurring_customer, cardholder_present, known_merchant`

func scanCandidates(rows pgx.Rows) ([]similarity.Candidate, error) {
	var out []similarity.Candidate
	for rows.Next() {
		var (
			t        txn.Transaction
			decision string
			score    float64
		)
		err := rows.Scan(
			&t.ID, &t.CardID, &t.MerchantID, &t.MerchantName, &t.MerchantCategory,
			&t.Amount, &t.Currency, &decision, &t.CardCountry, &t.IPCountry,
			&t.DeviceID, &t.Timestamp,
			&t.ThreeDSSuccess, &t.DeviceTrusted, &t.AVSMatch, &t.CVVMatch,
			&t.Tokenized, &t.RecurringCustomer, &t.CardholderPresent, &t.KnownMerchant,
			&score,
		)
		if err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		t.Decision = txn.Decision(decision)
		out = append(out, similarity.Candidate{Txn: t, RawScore: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return out, nil
}

// VectorLiteral renders a pgvector input literal: [x1,x2,...].
func VectorLiteral(vector []float32) string {
	var b strings.Builder
	b.Grow(len(vector)*10 + 2)
	b.WriteByte('[')
	for i, v := range vector {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
