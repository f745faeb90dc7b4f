// Package txnctx builds the evidence context for an investigation: the
// transaction under review, the card's recent history, rolling aggregates,
// and derived boolean signals. This is the only place that touches the raw
// payment schema; everything downstream consumes the canonical txn structs.
package txnctx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/inquest/internal/txn"
)

// ErrNotFound marks an unknown transaction ID. Callers must be able to tell
// a missing transaction from a query failure.
var ErrNotFound = errors.New("txnctx: transaction not found")

// Config carries the context-builder tunables.
type Config struct {
	HistoryLimit  int
	HistoryWindow time.Duration
	StatsTTL      time.Duration
	Burst1h       int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		HistoryLimit:  50,
		HistoryWindow: 30 * 24 * time.Hour,
		StatsTTL:      60 * time.Second,
		Burst1h:       8,
	}
}

// Builder assembles txn.Context from PostgreSQL, with rolling stats cached in
// Redis under a short TTL since they are recomputed for every planner
// bootstrap.
type Builder struct {
	pool   *pgxpool.Pool
	cache  redis.Cmdable
	cfg    Config
	logger log.Logger
	now    func() time.Time
}

// New creates a context builder. The cache may be nil; stats are then
// computed on every build.
func New(pool *pgxpool.Pool, cache redis.Cmdable, cfg Config, logger log.Logger) *Builder {
	if logger == nil {
		logger = log.Nop()
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 30 * 24 * time.Hour
	}
	if cfg.Burst1h <= 0 {
		cfg.Burst1h = 8
	}
	return &Builder{pool: pool, cache: cache, cfg: cfg, logger: logger, now: time.Now}
}

const txnColumns = `id, card_id, merchant_id, merchant_name, merchant_category, amount, currency,
	decision, card_country, ip_country, device_id, ts,
	three_ds_success, device_trusted, avs_match, cvv_match, tokenized,
	recurring_customer, cardholder_present, known_merchant`

// Build assembles the context for one transaction. History and stats queries
// fan out in parallel; any individual failure surfaces instead of producing a
// silently thinner context.
func (b *Builder) Build(ctx context.Context, transactionID string) (*txn.Context, error) {
	current, err := b.getTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	var (
		history []txn.Transaction
		stats   txn.RollingStats
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var herr error
		history, herr = b.getHistory(gctx, current)
		return herr
	})
	g.Go(func() error {
		var serr error
		stats, serr = b.getStats(gctx, current)
		return serr
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &txn.Context{
		Transaction: current,
		History:     history,
		Stats:       stats,
		Signals:     b.deriveSignals(current, history, stats),
		BuiltAt:     b.now().UTC(),
	}, nil
}

func (b *Builder) getTransaction(ctx context.Context, id string) (txn.Transaction, error) {
	query := `SELECT ` + txnColumns + ` FROM transactions WHERE id = $1`
	t, err := scanTransaction(b.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return txn.Transaction{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return txn.Transaction{}, fmt.Errorf("load transaction: %w", err)
	}
	return t, nil
}

// getHistory returns the card's prior transactions, most recent first.
func (b *Builder) getHistory(ctx context.Context, current txn.Transaction) ([]txn.Transaction, error) {
	query := `SELECT ` + txnColumns + ` FROM transactions
		WHERE card_id = $1 AND id <> $2 AND ts >= $3 AND ts <= $4
		ORDER BY ts DESC LIMIT $5`

	since := current.Timestamp.Add(-b.cfg.HistoryWindow)
	rows, err := b.pool.Query(ctx, query,
		current.CardID, current.ID, since, current.Timestamp, b.cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []txn.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}

func (b *Builder) getStats(ctx context.Context, current txn.Transaction) (txn.RollingStats, error) {
	key := "inquest:stats:" + current.CardID

	if b.cache != nil {
		if raw, err := b.cache.Get(ctx, key).Bytes(); err == nil {
			var cached txn.RollingStats
			if jerr := json.Unmarshal(raw, &cached); jerr == nil {
				return cached, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			b.logger.Warn(ctx, "stats cache read failed", "card_id", current.CardID, "error", err.Error())
		}
	}

	stats, err := b.computeStats(ctx, current)
	if err != nil {
		return txn.RollingStats{}, err
	}

	if b.cache != nil {
		if raw, jerr := json.Marshal(stats); jerr == nil {
			if err := b.cache.Set(ctx, key, raw, b.cfg.StatsTTL).Err(); err != nil {
				b.logger.Warn(ctx, "stats cache write failed", "card_id", current.CardID, "error", err.Error())
			}
		}
	}
	return stats, nil
}

// computeStats derives the rolling aggregates from the card's history in one
// aggregate query anchored at the transaction timestamp.
func (b *Builder) computeStats(ctx context.Context, current txn.Transaction) (txn.RollingStats, error) {
	query := `SELECT
		COUNT(*) FILTER (WHERE ts >= $2 - interval '1 hour'),
		COUNT(*) FILTER (WHERE ts >= $2 - interval '6 hours'),
		COUNT(*) FILTER (WHERE ts >= $2 - interval '24 hours'),
		COALESCE(AVG(amount) FILTER (WHERE ts >= $2 - interval '24 hours'), 0),
		COALESCE(AVG((decision = 'declined')::int::float) FILTER (WHERE ts >= $2 - interval '24 hours'), 0),
		COUNT(DISTINCT merchant_id) FILTER (WHERE ts >= $2 - interval '24 hours'),
		COALESCE(AVG(amount), 0),
		COALESCE(STDDEV_POP(amount), 0),
		COUNT(*)
	FROM transactions
	WHERE card_id = $1 AND id <> $3 AND ts <= $2`

	var stats txn.RollingStats
	err := b.pool.QueryRow(ctx, query, current.CardID, current.Timestamp, current.ID).Scan(
		&stats.Count1h, &stats.Count6h, &stats.Count24h,
		&stats.Avg24h, &stats.DeclineRatio24h, &stats.UniqueMerchants24h,
		&stats.HistMeanAmount, &stats.HistStddevAmount, &stats.HistCount,
	)
	if err != nil {
		return txn.RollingStats{}, fmt.Errorf("compute stats: %w", err)
	}
	return stats, nil
}

// deriveSignals computes the boolean signals the detectors key on.
func (b *Builder) deriveSignals(current txn.Transaction, history []txn.Transaction, stats txn.RollingStats) map[string]bool {
	signals := make(map[string]bool)
	if stats.Count1h >= b.cfg.Burst1h {
		signals["burst_1h"] = true
	}
	if current.IPCountry != "" && current.CardCountry != "" && current.IPCountry != current.CardCountry {
		signals["geo_mismatch"] = true
	}

	seenMerchant := false
	for _, h := range history {
		if h.MerchantID == current.MerchantID {
			seenMerchant = true
			break
		}
	}
	if !seenMerchant {
		signals["first_seen_merchant"] = true
	}
	if current.Decision == txn.DecisionDeclined {
		signals["declined"] = true
	}
	return signals
}

func scanTransaction(row pgx.Row) (txn.Transaction, error) {
	var t txn.Transaction
	var decision string
	err := row.Scan(
		&t.ID, &t.CardID, &t.MerchantID, &t.MerchantName, &t.MerchantCategory,
		&t.Amount, &t.Currency, &decision, &t.CardCountry, &t.IPCountry,
		&t.DeviceID, &t.Timestamp,
		&t.ThreeDSSuccess, &t.DeviceTrusted, &t.AVSMatch, &t.CVVMatch,
		&t.Tokenized, &t.RecurringCustomer, &t.CardholderPresent, &t.KnownMerchant,
	)
	if err != nil {
		return txn.Transaction{}, err
	}
	t.Decision = txn.Decision(decision)
	return t, nil
}
