package pipeline

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/groundline/groundline/pkg/logger"
)

const defaultStaleDebounce = 2 * time.Second

// corpusWatcher monitors the data dir for ingestion writes. Loaded indexes
// are immutable for the process lifetime, so a change only raises the stale
// flag; operators restart to pick up the new corpus. Debounced because
// ingestion writes the db and vector file in separate bursts.
type corpusWatcher struct {
	dataDir  string
	fsw      *fsnotify.Watcher
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stale    atomic.Bool
	debounce time.Duration
	log      zerolog.Logger
}

// StartWatcher begins watching the data dir for corpus changes. Safe to call
// once per runtime.
func (rt *Runtime) StartWatcher(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(rt.cfg.DataDir); err != nil {
		fsw.Close()
		return err
	}
	w := &corpusWatcher{
		dataDir:  rt.cfg.DataDir,
		fsw:      fsw,
		debounce: defaultStaleDebounce,
		log:      logger.With("watcher"),
	}
	rt.watcher = w

	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.loop(ctx)
	}()
	return nil
}

func (w *corpusWatcher) stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.fsw.Close()
}

func (w *corpusWatcher) loop(ctx context.Context) {
	var timer *time.Timer
	timerC := func() <-chan time.Time {
		if timer == nil {
			return nil
		}
		return timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.isCorpusEvent(ev) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("watch error")

		case <-timerC():
			timer = nil
			if w.stale.CompareAndSwap(false, true) {
				w.log.Warn().Msg("corpus files changed on disk; restart to reload indexes")
			}
		}
	}
}

func (w *corpusWatcher) isCorpusEvent(ev fsnotify.Event) bool {
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) {
		return false
	}
	name := strings.ToLower(filepath.Base(ev.Name))
	return name == "corpus.db" || name == "vectors.bin"
}
