package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce collapses bursts of editor writes into a single reload.
const reloadDebounce = 500 * time.Millisecond

// Holder publishes the current Knowledge snapshot. Readers take one snapshot
// per request and keep using it even if a reload swaps in a newer one.
type Holder struct {
	current atomic.Pointer[Knowledge]
}

// NewHolder returns a Holder publishing k.
func NewHolder(k *Knowledge) *Holder {
	h := &Holder{}
	h.current.Store(k)
	return h
}

// Current returns the published snapshot. It never returns nil.
func (h *Holder) Current() *Knowledge {
	if k := h.current.Load(); k != nil {
		return k
	}
	return &Knowledge{}
}

// Swap publishes k and returns the previous snapshot.
func (h *Holder) Swap(k *Knowledge) *Knowledge {
	return h.current.Swap(k)
}

// Watch reloads the tables in dir whenever one of the corpus files changes
// and publishes the result through h. It blocks until ctx is cancelled.
func Watch(ctx context.Context, dir string, h *Holder, log *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("knowledge: create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return fmt.Errorf("knowledge: watch %s: %w", dir, err)
	}
	log.Info("knowledge: watching for changes", slog.String("dir", dir))

	timer := time.NewTimer(reloadDebounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !isCorpusFile(ev.Name) || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) {
				continue
			}
			log.Debug("knowledge: change detected",
				slog.String("file", filepath.Base(ev.Name)),
				slog.String("op", ev.Op.String()),
			)
			timer.Reset(reloadDebounce)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("knowledge: watcher error", slog.Any("error", err))

		case <-timer.C:
			k, err := Load(dir, log)
			if err != nil {
				log.Warn("knowledge: reload failed, keeping previous tables", slog.Any("error", err))
				continue
			}
			h.Swap(k)
		}
	}
}

// isCorpusFile reports whether path names one of the three table files.
func isCorpusFile(path string) bool {
	switch filepath.Base(path) {
	case LawFile, QAFile, ConceptsFile:
		return true
	}
	return false
}
