package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/groundline/groundline/pkg/bm25"
	"github.com/groundline/groundline/pkg/corpus"
	"github.com/groundline/groundline/pkg/logger"
)

// CachePath returns the signed BM25 cache location inside the data dir.
func CachePath(dir string) string {
	return filepath.Join(dir, "bm25.cache")
}

// bm25Manager owns lazy load-or-rebuild of the lexical index. The mutex
// serializes the rebuild; concurrent queries block on it and then read the
// finished index.
type bm25Manager struct {
	mu     sync.Mutex
	idx    *bm25.Index
	path   string
	secret []byte
	k1, b  float64
	crp    *corpus.Corpus
	log    zerolog.Logger
}

func newBM25Manager(path string, secret []byte, k1, b float64, crp *corpus.Corpus) *bm25Manager {
	return &bm25Manager{
		path:   path,
		secret: secret,
		k1:     k1,
		b:      b,
		crp:    crp,
		log:    logger.With("bm25"),
	}
}

// Get returns the ready index, loading the signed cache or rebuilding from
// the corpus on first use. Any cache rejection deletes the file on disk.
func (m *bm25Manager) Get(ctx context.Context) (*bm25.Index, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.idx != nil {
		return m.idx, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if idx, err := bm25.Load(m.path, m.secret, m.crp.Hash(), m.k1, m.b); err == nil {
		m.idx = idx
		m.log.Debug().Int("docs", idx.Len()).Msg("loaded bm25 cache")
		return idx, nil
	} else if !os.IsNotExist(err) {
		m.log.Warn().Err(err).Msg("rejecting bm25 cache, rebuilding")
		if rmErr := os.Remove(m.path); rmErr != nil && !os.IsNotExist(rmErr) {
			m.log.Warn().Err(rmErr).Msg("could not delete rejected cache")
		}
	}

	idx := bm25.New(m.k1, m.b)
	for _, c := range m.crp.All() {
		idx.Add(c.ID, corpus.NormalizeText(c.Text))
	}
	if err := idx.Save(m.path, m.secret, m.crp.Hash()); err != nil {
		// Cache write failure is not fatal; next start rebuilds again.
		m.log.Warn().Err(err).Msg("could not persist bm25 cache")
	} else {
		m.log.Info().Int("docs", idx.Len()).Msg("rebuilt bm25 cache")
	}
	m.idx = idx
	return idx, nil
}
