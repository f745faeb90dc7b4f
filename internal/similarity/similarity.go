// Package similarity finds historical transactions that resemble the one
// under investigation, combining vector-embedding search with attribute
// search over shared card and merchant identifiers.
package similarity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/inquest/internal/embed"
	"github.com/linnemanlabs/inquest/internal/freshness"
	"github.com/linnemanlabs/inquest/internal/txn"
)

// ErrEmbedding marks an unavailable or misbehaving embedding dependency.
// Under the fail-closed policy this aborts the search rather than letting an
// environment run indefinitely without vector evidence.
var ErrEmbedding = errors.New("similarity: embedding dependency unavailable")

// Match types.
const (
	MatchVector    = "vector"
	MatchAttribute = "attribute"
)

// Affinity multipliers. Same-card history is far more probative than
// incidental merchant overlap.
const (
	affinitySameCard     = 1.0
	affinitySameMerchant = 0.75
	affinityUnrelated    = 0.35
)

// FailurePolicy selects what happens when the embedding dependency fails
// while vector search is enabled. Callers must choose one policy and keep it;
// mixing them hides outages.
type FailurePolicy string

const (
	// FailClosed raises a dependency error on embedding failure.
	FailClosed FailurePolicy = "fail_closed"
	// Degrade falls back to attribute-only search and records the fallback.
	Degrade FailurePolicy = "degrade"
)

// Candidate is one raw search hit before affinity and freshness adjustment.
type Candidate struct {
	Txn      txn.Transaction
	RawScore float64
}

// VectorStore is the nearest-neighbor index over transaction embeddings.
type VectorStore interface {
	Upsert(ctx context.Context, t txn.Transaction, vector []float32) error
	Search(ctx context.Context, vector []float32, since time.Time, limit int) ([]Candidate, error)
}

// AttributeSearcher finds candidates sharing the card or merchant identifier.
type AttributeSearcher interface {
	SearchByAttributes(ctx context.Context, cardID, merchantID string, since time.Time, limit int) ([]Candidate, error)
}

// CounterEvidence is one mitigating signal attached to a match.
type CounterEvidence struct {
	Kind       string    `json:"kind"`
	Strength   float64   `json:"strength"`
	ObservedAt time.Time `json:"observed_at,omitempty"`
}

// Match is one ranked similar transaction. Immutable once produced.
type Match struct {
	MatchID         string            `json:"match_id"`
	MatchType       string            `json:"match_type"`
	SimilarityScore float64           `json:"similarity_score"`
	Details         map[string]any    `json:"details,omitempty"`
	CounterEvidence []CounterEvidence `json:"counter_evidence,omitempty"`
}

// Result is the similarity engine output with diagnostics about which search
// paths actually executed.
type Result struct {
	Matches           Matches   `json:"matches"`
	OverallScore      float64   `json:"overall_score"`
	VectorSearched    bool      `json:"vector_searched"`
	AttributeSearched bool      `json:"attribute_searched"`
	Fallback          string    `json:"fallback,omitempty"`
	ComputedAt        time.Time `json:"computed_at"`
}

// Matches is a ranked match list.
type Matches []Match

// CounterEvidenceItems flattens the counter-evidence across all matches.
func (m Matches) CounterEvidenceItems() []CounterEvidence {
	var out []CounterEvidence
	for _, match := range m {
		out = append(out, match.CounterEvidence...)
	}
	return out
}

// counterStrengths are the fixed per-kind mitigating strengths.
var counterStrengths = map[string]float64{
	"three_ds_success":   0.9,
	"cardholder_present": 0.8,
	"device_trusted":     0.7,
	"recurring_customer": 0.7,
	"tokenized":          0.65,
	"avs_match":          0.6,
	"cvv_match":          0.6,
	"known_merchant":     0.5,
}

// Config carries the tunables for one similarity engine instance.
type Config struct {
	Enabled       bool
	MinSimilarity float64
	WindowDays    int
	Limit         int
	ExpectDim     int
	Policy        FailurePolicy
}

// DefaultConfig returns the production defaults (fail-closed).
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		MinSimilarity: 0.3,
		WindowDays:    30,
		Limit:         20,
		Policy:        FailClosed,
	}
}

// Engine combines the vector and attribute search paths.
type Engine struct {
	cfg      Config
	embedder embed.Embedder
	vectors  VectorStore
	attrs    AttributeSearcher
	weigher  *freshness.Weigher
	logger   log.Logger
	now      func() time.Time
}

// NewEngine creates a similarity engine.
func NewEngine(cfg Config, embedder embed.Embedder, vectors VectorStore, attrs AttributeSearcher, logger log.Logger) *Engine {
	if logger == nil {
		logger = log.Nop()
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 20
	}
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = 30
	}
	if cfg.Policy == "" {
		cfg.Policy = FailClosed
	}
	return &Engine{
		cfg:      cfg,
		embedder: embedder,
		vectors:  vectors,
		attrs:    attrs,
		weigher:  freshness.Default(),
		logger:   logger,
		now:      time.Now,
	}
}

// Search returns ranked matches for the transaction. When vector search is
// disabled by configuration it returns a zero-score stub rather than an error.
func (e *Engine) Search(ctx context.Context, current txn.Transaction) (*Result, error) {
	now := e.now()

	if !e.cfg.Enabled {
		return &Result{Fallback: "vector_search_disabled", ComputedAt: now}, nil
	}

	since := now.AddDate(0, 0, -e.cfg.WindowDays)

	vector, err := e.embedTransaction(ctx, current)
	if err != nil {
		if e.cfg.Policy == Degrade {
			e.logger.Warn(ctx, "embedding failed, degrading to attribute-only search",
				"transaction_id", current.ID, "error", err.Error())
			return e.attributeOnly(ctx, current, since, now)
		}
		return nil, err
	}

	// Best-effort index write so future searches can find this transaction.
	if upErr := e.vectors.Upsert(ctx, current, vector); upErr != nil {
		e.logger.Warn(ctx, "embedding upsert failed", "transaction_id", current.ID, "error", upErr.Error())
	}

	// Vector and attribute queries run concurrently; neither cancels the
	// other on failure.
	var (
		wg                 sync.WaitGroup
		vecCands, attCands []Candidate
		vecErr, attErr     error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		vecCands, vecErr = e.vectors.Search(ctx, vector, since, e.cfg.Limit)
	}()
	go func() {
		defer wg.Done()
		attCands, attErr = e.attrs.SearchByAttributes(ctx, current.CardID, current.MerchantID, since, e.cfg.Limit)
	}()
	wg.Wait()

	fallback := ""
	if vecErr != nil {
		if e.cfg.Policy == FailClosed {
			return nil, fmt.Errorf("%w: vector search: %v", ErrEmbedding, vecErr)
		}
		e.logger.Warn(ctx, "vector search failed, continuing with attribute matches", "error", vecErr.Error())
		fallback = "attribute_only"
		vecCands = nil
	}
	if attErr != nil {
		return nil, fmt.Errorf("attribute search: %w", attErr)
	}

	result := e.rank(current, vecCands, attCands, now)
	result.VectorSearched = vecErr == nil
	result.AttributeSearched = true
	result.Fallback = fallback
	return result, nil
}

func (e *Engine) embedTransaction(ctx context.Context, t txn.Transaction) ([]float32, error) {
	emb, err := e.embedder.Embed(ctx, DescribeTransaction(t))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}
	if e.cfg.ExpectDim > 0 && len(emb.Vector) != e.cfg.ExpectDim {
		return nil, fmt.Errorf("%w: model %s returned %d dimensions, expected %d",
			ErrEmbedding, emb.Model, len(emb.Vector), e.cfg.ExpectDim)
	}
	return emb.Vector, nil
}

func (e *Engine) attributeOnly(ctx context.Context, current txn.Transaction, since, now time.Time) (*Result, error) {
	cands, err := e.attrs.SearchByAttributes(ctx, current.CardID, current.MerchantID, since, e.cfg.Limit)
	if err != nil {
		return nil, fmt.Errorf("attribute search: %w", err)
	}
	result := e.rank(current, nil, cands, now)
	result.AttributeSearched = true
	result.Fallback = "attribute_only"
	return result, nil
}

// rank applies affinity and freshness adjustment, drops weak candidates,
// merges the two paths by transaction id, and computes the overall score.
func (e *Engine) rank(current txn.Transaction, vecCands, attCands []Candidate, now time.Time) *Result {
	best := make(map[string]Match)

	consider := func(c Candidate, matchType string) {
		adjusted, details := e.adjust(current, c, now)
		if adjusted < e.cfg.MinSimilarity {
			return
		}
		m := Match{
			MatchID:         c.Txn.ID,
			MatchType:       matchType,
			SimilarityScore: adjusted,
			Details:         details,
			CounterEvidence: extractCounterEvidence(c.Txn),
		}
		if prev, ok := best[m.MatchID]; !ok || m.SimilarityScore > prev.SimilarityScore {
			best[m.MatchID] = m
		}
	}

	for _, c := range vecCands {
		consider(c, MatchVector)
	}
	for _, c := range attCands {
		consider(c, MatchAttribute)
	}

	matches := make(Matches, 0, len(best))
	for _, m := range best {
		matches = append(matches, m)
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].SimilarityScore != matches[j].SimilarityScore {
			return matches[i].SimilarityScore > matches[j].SimilarityScore
		}
		return matches[i].MatchID < matches[j].MatchID
	})
	if len(matches) > e.cfg.Limit {
		matches = matches[:e.cfg.Limit]
	}

	return &Result{
		Matches:      matches,
		OverallScore: overallScore(matches),
		ComputedAt:   now,
	}
}

func (e *Engine) adjust(current txn.Transaction, c Candidate, now time.Time) (float64, map[string]any) {
	sameCard := c.Txn.CardID != "" && c.Txn.CardID == current.CardID
	sameMerchant := c.Txn.MerchantID != "" && c.Txn.MerchantID == current.MerchantID

	aff := affinityUnrelated
	switch {
	case sameCard:
		aff = affinitySameCard
	case sameMerchant:
		aff = affinitySameMerchant
	}

	fresh := e.weigher.Weight(freshness.EvidenceSimilarity, c.Txn.Timestamp, now)
	adjusted := c.RawScore * aff * fresh

	return adjusted, map[string]any{
		"raw_score":        c.RawScore,
		"affinity":         aff,
		"freshness_weight": round3(fresh),
		"same_card":        sameCard,
		"same_merchant":    sameMerchant,
	}
}

// overallScore is the mean adjusted score of the top five matches.
func overallScore(matches Matches) float64 {
	if len(matches) == 0 {
		return 0
	}
	n := len(matches)
	if n > 5 {
		n = 5
	}
	var sum float64
	for _, m := range matches[:n] {
		sum += m.SimilarityScore
	}
	return sum / float64(n)
}

func extractCounterEvidence(t txn.Transaction) []CounterEvidence {
	var out []CounterEvidence
	for _, kind := range t.CounterSignals() {
		out = append(out, CounterEvidence{
			Kind:       kind,
			Strength:   counterStrengths[kind],
			ObservedAt: t.Timestamp,
		})
	}
	return out
}

// DescribeTransaction renders the embedding input text. Stable field order so
// embeddings stay comparable across versions.
func DescribeTransaction(t txn.Transaction) string {
	return fmt.Sprintf(
		"payment %.2f %s merchant=%s category=%s card_country=%s ip_country=%s hour=%d decision=%s",
		t.Amount, t.Currency, t.MerchantID, t.MerchantCategory,
		t.CardCountry, t.IPCountry, t.Timestamp.UTC().Hour(), t.Decision,
	)
}

func round3(v float64) float64 {
	return float64(int(v*1000+0.5)) / 1000
}
