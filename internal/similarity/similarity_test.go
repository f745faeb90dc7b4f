package similarity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/linnemanlabs/inquest/internal/embed"
	"github.com/linnemanlabs/inquest/internal/txn"
)

var now = time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC)

type fakeEmbedder struct {
	vector []float32
	err    error
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) (embed.Embedding, error) {
	if f.err != nil {
		return embed.Embedding{}, f.err
	}
	return embed.Embedding{Vector: f.vector, Model: "fake"}, nil
}

type fakeVectorStore struct {
	candidates []Candidate
	searchErr  error
	upsertErr  error
	upserts    int
}

func (f *fakeVectorStore) Upsert(_ context.Context, _ txn.Transaction, _ []float32) error {
	f.upserts++
	return f.upsertErr
}

func (f *fakeVectorStore) Search(_ context.Context, _ []float32, _ time.Time, _ int) ([]Candidate, error) {
	return f.candidates, f.searchErr
}

type fakeAttrSearcher struct {
	candidates []Candidate
	err        error
}

func (f *fakeAttrSearcher) SearchByAttributes(_ context.Context, _, _ string, _ time.Time, _ int) ([]Candidate, error) {
	return f.candidates, f.err
}

func current() txn.Transaction {
	return txn.Transaction{
		ID:         "tx-current",
		CardID:     "card-1",
		MerchantID: "m-1",
		Amount:     420,
		Currency:   "USD",
		Timestamp:  now,
	}
}

func newTestEngine(cfg Config, emb embed.Embedder, vs VectorStore, as AttributeSearcher) *Engine {
	e := NewEngine(cfg, emb, vs, as, nil)
	e.now = func() time.Time { return now }
	return e
}

func TestSearch_AffinityOutranksRawScore(t *testing.T) {
	t.Parallel()

	// Same-card raw 0.6 must outrank same-merchant raw 0.7:
	// 0.6 * 1.0 > 0.7 * 0.75.
	vs := &fakeVectorStore{candidates: []Candidate{
		{Txn: txn.Transaction{ID: "tx-card", CardID: "card-1", MerchantID: "m-9", Timestamp: now.Add(-time.Hour)}, RawScore: 0.6},
		{Txn: txn.Transaction{ID: "tx-merchant", CardID: "card-9", MerchantID: "m-1", Timestamp: now.Add(-time.Hour)}, RawScore: 0.7},
	}}
	e := newTestEngine(DefaultConfig(), &fakeEmbedder{vector: []float32{1}}, vs, &fakeAttrSearcher{})

	r, err := e.Search(context.Background(), current())
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(r.Matches) != 2 {
		t.Fatalf("matches = %d, want 2", len(r.Matches))
	}
	if r.Matches[0].MatchID != "tx-card" {
		t.Errorf("top match = %s, want same-card tx-card", r.Matches[0].MatchID)
	}
	if r.Matches[0].SimilarityScore <= r.Matches[1].SimilarityScore {
		t.Errorf("scores not strictly ordered: %v vs %v",
			r.Matches[0].SimilarityScore, r.Matches[1].SimilarityScore)
	}
	if !r.VectorSearched || !r.AttributeSearched {
		t.Error("expected both search paths to run")
	}
}

func TestSearch_UnrelatedCandidateSuppressed(t *testing.T) {
	t.Parallel()

	// Unrelated affinity 0.35 pushes even a strong raw score under the
	// 0.3 floor: 0.8 * 0.35 = 0.28.
	vs := &fakeVectorStore{candidates: []Candidate{
		{Txn: txn.Transaction{ID: "tx-other", CardID: "card-9", MerchantID: "m-9", Timestamp: now.Add(-time.Hour)}, RawScore: 0.8},
	}}
	e := newTestEngine(DefaultConfig(), &fakeEmbedder{vector: []float32{1}}, vs, &fakeAttrSearcher{})

	r, err := e.Search(context.Background(), current())
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(r.Matches) != 0 {
		t.Errorf("matches = %d, want 0 after affinity suppression", len(r.Matches))
	}
	if r.OverallScore != 0 {
		t.Errorf("overall = %v, want 0", r.OverallScore)
	}
}

func TestSearch_StaleMatchDecays(t *testing.T) {
	t.Parallel()

	vs := &fakeVectorStore{candidates: []Candidate{
		{Txn: txn.Transaction{ID: "tx-fresh", CardID: "card-1", Timestamp: now.Add(-time.Hour)}, RawScore: 0.8},
		{Txn: txn.Transaction{ID: "tx-stale", CardID: "card-1", Timestamp: now.Add(-20 * 24 * time.Hour)}, RawScore: 0.8},
	}}
	e := newTestEngine(DefaultConfig(), &fakeEmbedder{vector: []float32{1}}, vs, &fakeAttrSearcher{})

	r, err := e.Search(context.Background(), current())
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(r.Matches) != 1 {
		t.Fatalf("matches = %v, want only the fresh one to survive", r.Matches)
	}
	if r.Matches[0].MatchID != "tx-fresh" {
		t.Errorf("surviving match = %s, want tx-fresh", r.Matches[0].MatchID)
	}
}

func TestSearch_DuplicateAcrossPathsKeepsHigher(t *testing.T) {
	t.Parallel()

	shared := txn.Transaction{ID: "tx-dup", CardID: "card-1", Timestamp: now.Add(-time.Hour)}
	vs := &fakeVectorStore{candidates: []Candidate{{Txn: shared, RawScore: 0.9}}}
	as := &fakeAttrSearcher{candidates: []Candidate{{Txn: shared, RawScore: 0.5}}}
	e := newTestEngine(DefaultConfig(), &fakeEmbedder{vector: []float32{1}}, vs, as)

	r, err := e.Search(context.Background(), current())
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(r.Matches) != 1 {
		t.Fatalf("matches = %d, want 1 after dedup", len(r.Matches))
	}
	if r.Matches[0].MatchType != MatchVector {
		t.Errorf("kept match type = %s, want the higher-scoring vector hit", r.Matches[0].MatchType)
	}
}

func TestSearch_CounterEvidenceExtracted(t *testing.T) {
	t.Parallel()

	cand := txn.Transaction{
		ID:             "tx-trusted",
		CardID:         "card-1",
		Timestamp:      now.Add(-time.Hour),
		ThreeDSSuccess: true,
		DeviceTrusted:  true,
	}
	vs := &fakeVectorStore{candidates: []Candidate{{Txn: cand, RawScore: 0.8}}}
	e := newTestEngine(DefaultConfig(), &fakeEmbedder{vector: []float32{1}}, vs, &fakeAttrSearcher{})

	r, err := e.Search(context.Background(), current())
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	items := r.Matches.CounterEvidenceItems()
	if len(items) != 2 {
		t.Fatalf("counter evidence = %d items, want 2", len(items))
	}
	for _, ce := range items {
		if ce.Strength <= 0 {
			t.Errorf("counter evidence %s has no strength", ce.Kind)
		}
	}
}

func TestSearch_Disabled(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Enabled = false
	e := newTestEngine(cfg, &fakeEmbedder{err: errors.New("must not be called")}, &fakeVectorStore{}, &fakeAttrSearcher{})

	r, err := e.Search(context.Background(), current())
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if r.Fallback != "vector_search_disabled" {
		t.Errorf("fallback = %q", r.Fallback)
	}
	if r.OverallScore != 0 || len(r.Matches) != 0 {
		t.Error("disabled engine must return a zero-score stub")
	}
}

func TestSearch_EmbedFailureFailClosed(t *testing.T) {
	t.Parallel()

	e := newTestEngine(DefaultConfig(), &fakeEmbedder{err: errors.New("boom")}, &fakeVectorStore{}, &fakeAttrSearcher{})

	if _, err := e.Search(context.Background(), current()); !errors.Is(err, ErrEmbedding) {
		t.Fatalf("err = %v, want ErrEmbedding", err)
	}
}

func TestSearch_EmbedFailureDegrades(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Policy = Degrade
	as := &fakeAttrSearcher{candidates: []Candidate{
		{Txn: txn.Transaction{ID: "tx-att", CardID: "card-1", Timestamp: now.Add(-time.Hour)}, RawScore: 0.7},
	}}
	e := newTestEngine(cfg, &fakeEmbedder{err: errors.New("boom")}, &fakeVectorStore{}, as)

	r, err := e.Search(context.Background(), current())
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if r.Fallback != "attribute_only" {
		t.Errorf("fallback = %q, want attribute_only", r.Fallback)
	}
	if r.VectorSearched {
		t.Error("vector path must be marked unsearched after degrade")
	}
	if len(r.Matches) != 1 || r.Matches[0].MatchType != MatchAttribute {
		t.Errorf("matches = %+v, want one attribute match", r.Matches)
	}
}

func TestSearch_DimensionMismatchIsHardFailure(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Policy = Degrade
	cfg.ExpectDim = 4
	as := &fakeAttrSearcher{candidates: []Candidate{
		{Txn: txn.Transaction{ID: "tx-att", CardID: "card-1", Timestamp: now.Add(-time.Hour)}, RawScore: 0.7},
	}}
	e := newTestEngine(cfg, &fakeEmbedder{vector: []float32{1, 2}}, &fakeVectorStore{}, as)

	// Dimension mismatch means a misconfigured model. Even the degrade policy
	// still serves attribute-only results but never the bad vector.
	r, err := e.Search(context.Background(), current())
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if r.Fallback != "attribute_only" {
		t.Errorf("fallback = %q, want attribute_only", r.Fallback)
	}

	cfg.Policy = FailClosed
	e = newTestEngine(cfg, &fakeEmbedder{vector: []float32{1, 2}}, &fakeVectorStore{}, as)
	if _, err := e.Search(context.Background(), current()); !errors.Is(err, ErrEmbedding) {
		t.Fatalf("err = %v, want ErrEmbedding on dimension mismatch", err)
	}
}

func TestSearch_VectorStoreFailure(t *testing.T) {
	t.Parallel()

	vs := &fakeVectorStore{searchErr: errors.New("index down")}
	as := &fakeAttrSearcher{candidates: []Candidate{
		{Txn: txn.Transaction{ID: "tx-att", CardID: "card-1", Timestamp: now.Add(-time.Hour)}, RawScore: 0.7},
	}}

	e := newTestEngine(DefaultConfig(), &fakeEmbedder{vector: []float32{1}}, vs, as)
	if _, err := e.Search(context.Background(), current()); !errors.Is(err, ErrEmbedding) {
		t.Fatalf("fail-closed err = %v, want ErrEmbedding", err)
	}

	cfg := DefaultConfig()
	cfg.Policy = Degrade
	e = newTestEngine(cfg, &fakeEmbedder{vector: []float32{1}}, vs, as)
	r, err := e.Search(context.Background(), current())
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if r.Fallback != "attribute_only" || len(r.Matches) != 1 {
		t.Errorf("result = %+v, want attribute-only fallback with one match", r)
	}
}

func TestSearch_UpsertFailureIsBestEffort(t *testing.T) {
	t.Parallel()

	vs := &fakeVectorStore{upsertErr: errors.New("write refused")}
	e := newTestEngine(DefaultConfig(), &fakeEmbedder{vector: []float32{1}}, vs, &fakeAttrSearcher{})

	if _, err := e.Search(context.Background(), current()); err != nil {
		t.Fatalf("Search: %v, upsert failure must not abort", err)
	}
	if vs.upserts != 1 {
		t.Errorf("upserts = %d, want 1", vs.upserts)
	}
}

func TestOverallScore_TopFiveMean(t *testing.T) {
	t.Parallel()

	var ms Matches
	for _, s := range []float64{0.9, 0.8, 0.7, 0.6, 0.5, 0.1} {
		ms = append(ms, Match{SimilarityScore: s})
	}
	got := overallScore(ms)
	want := (0.9 + 0.8 + 0.7 + 0.6 + 0.5) / 5
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("overall = %v, want %v", got, want)
	}
}
