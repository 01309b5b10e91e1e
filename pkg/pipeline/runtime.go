package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/groundline/groundline/pkg/audit"
	"github.com/groundline/groundline/pkg/config"
	"github.com/groundline/groundline/pkg/corpus"
	"github.com/groundline/groundline/pkg/embed"
	"github.com/groundline/groundline/pkg/evidence"
	"github.com/groundline/groundline/pkg/llm"
	"github.com/groundline/groundline/pkg/logger"
	"github.com/groundline/groundline/pkg/retrieve"
	"github.com/groundline/groundline/pkg/risk"
	"github.com/groundline/groundline/pkg/router"
	"github.com/groundline/groundline/pkg/vector"
)

// errQueueFull signals generation back-pressure internally; it is never
// surfaced to callers, who see Extractive(reason="overload") instead.
var errQueueFull = errors.New("generation queue full")

// Runtime is the process-wide pipeline state, built once at startup and
// shared read-only across queries.
type Runtime struct {
	cfg      config.Config
	policy   config.Policy
	store    *corpus.Store
	crp      *corpus.Corpus
	vecIdx   *vector.Index
	embedder embed.Embedder
	provider llm.Provider
	assessor *risk.Assessor
	router   *router.Router
	retr     *retrieve.Retriever
	bm       *bm25Manager
	auditor  *audit.Auditor
	recorder *evidence.Recorder
	watcher  *corpusWatcher
	reranker retrieve.Reranker
	zeroShot router.ZeroShot
	log      zerolog.Logger

	sem     *semaphore.Weighted
	pending int64 // queued + in-flight generation requests
}

// RuntimeOption customizes construction.
type RuntimeOption func(*Runtime)

// WithEmbedder injects a dense embedder. Without one the pipeline runs
// lexical-only with capped confidence.
func WithEmbedder(e embed.Embedder) RuntimeOption {
	return func(rt *Runtime) { rt.embedder = e }
}

// WithLLM injects the generation provider. Without one every gate-approved
// query degrades to extractive.
func WithLLM(p llm.Provider) RuntimeOption {
	return func(rt *Runtime) { rt.provider = p }
}

// WithReranker injects an optional cross-encoder stage.
func WithReranker(r retrieve.Reranker) RuntimeOption {
	return func(rt *Runtime) { rt.reranker = r }
}

// WithZeroShot injects an optional zero-shot domain classifier.
func WithZeroShot(z router.ZeroShot) RuntimeOption {
	return func(rt *Runtime) { rt.zeroShot = z }
}

// WithRecorder redirects the evidence sink, mainly for tests.
func WithRecorder(r *evidence.Recorder) RuntimeOption {
	return func(rt *Runtime) { rt.recorder = r }
}

// NewRuntime loads the corpus, embeddings, and policy pack, builds the
// in-memory indexes, and wires the stages. The vector index is required
// whenever embeddings are on disk; a corpus without embeddings serves
// lexical-only.
func NewRuntime(cfg config.Config, opts ...RuntimeOption) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	policy, err := config.LoadPolicy(cfg.PolicyPath)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}

	rt := &Runtime{
		cfg:    cfg,
		policy: policy,
		log:    logger.With("pipeline"),
		sem:    semaphore.NewWeighted(int64(cfg.LLMConcurrency)),
	}
	for _, opt := range opts {
		opt(rt)
	}

	store, err := corpus.OpenStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	rt.store = store

	chunks, err := store.LoadChunks()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	crp, err := corpus.New(chunks)
	if err != nil {
		store.Close()
		return nil, err
	}
	rt.crp = crp

	vectors, err := store.LoadVectors()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("load vectors: %w", err)
	}
	if len(vectors) > 0 {
		if len(vectors) != crp.Len() {
			store.Close()
			return nil, fmt.Errorf("%d vectors for %d chunks", len(vectors), crp.Len())
		}
		ids := make([]string, crp.Len())
		for i, c := range crp.All() {
			ids[i] = c.ID
		}
		idx, err := vector.Build(ids, vectors)
		if err != nil {
			store.Close()
			return nil, err
		}
		rt.vecIdx = idx
	}

	rt.assessor, err = risk.NewAssessor(policy, cfg.MaxQueryChars, cfg.HardRefuseOOS)
	if err != nil {
		store.Close()
		return nil, err
	}
	rt.router = router.New(policy.Domains, cfg.DomainFilterThreshold, rt.zeroShot)
	rt.bm = newBM25Manager(CachePath(cfg.DataDir), []byte(cfg.CacheSecret), cfg.BM25K1, cfg.BM25B, crp)
	rt.retr = retrieve.New(rt.embedder, rt.vecIdx, crp, rt.reranker)
	rt.auditor = audit.New(rt.embedder, cfg.SupportThreshold)

	if rt.recorder == nil {
		rec, err := evidence.NewRecorder(filepath.Join(cfg.DataDir, "evidence.ndjson"))
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("open evidence log: %w", err)
		}
		rt.recorder = rec
	}

	rt.log.Info().
		Int("chunks", crp.Len()).
		Bool("vectors", rt.vecIdx != nil).
		Bool("llm", rt.provider != nil).
		Str("corpus_hash", crp.Hash()[:12]).
		Msg("runtime ready")
	return rt, nil
}

// Corpus exposes the loaded corpus for status reporting.
func (rt *Runtime) Corpus() *corpus.Corpus { return rt.crp }

// Stale reports whether the on-disk corpus changed since startup; a restart
// is needed to pick it up.
func (rt *Runtime) Stale() bool {
	return rt.watcher != nil && rt.watcher.stale.Load()
}

// Close flushes the evidence log and releases the store.
func (rt *Runtime) Close() error {
	if rt.watcher != nil {
		rt.watcher.stop()
	}
	var first error
	if rt.recorder != nil {
		first = rt.recorder.Close()
	}
	if rt.store != nil {
		if err := rt.store.Close(); first == nil {
			first = err
		}
	}
	return first
}

// beginGenerate reserves a generation slot or reports back-pressure. The
// returned release must be called exactly once.
func (rt *Runtime) beginGenerate(ctx context.Context) (release func(), err error) {
	limit := int64(rt.cfg.LLMQueueMax + rt.cfg.LLMConcurrency)
	if atomic.AddInt64(&rt.pending, 1) > limit {
		atomic.AddInt64(&rt.pending, -1)
		return nil, errQueueFull
	}
	if err := rt.sem.Acquire(ctx, 1); err != nil {
		atomic.AddInt64(&rt.pending, -1)
		return nil, err
	}
	return func() {
		rt.sem.Release(1)
		atomic.AddInt64(&rt.pending, -1)
	}, nil
}
