package catalog

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/starford/mrtrack/internal/storage"
)

// DefaultSettle is the quiet period used when Watch is given none.
const DefaultSettle = 500 * time.Millisecond

// pending collects paths touched since the last flush. Scanner exports
// arrive in many writes, so a file is catalogued once it has been quiet
// for the settle period rather than on every event.
type pending struct {
	paths     map[string]struct{}
	reconcile bool
}

func (p *pending) empty() bool { return len(p.paths) == 0 && !p.reconcile }

func (p *pending) take() ([]string, bool) {
	out := make([]string, 0, len(p.paths))
	for k := range p.paths {
		out = append(out, k)
	}
	sort.Strings(out)
	rec := p.reconcile
	p.paths, p.reconcile = map[string]struct{}{}, false
	return out, rec
}

// Watch follows the incoming root until ctx is cancelled, keeping the
// catalog in step with the directory. cb, when non-nil, receives every
// catalog change. Renames only report the old path, so they trigger a
// full reconcile on the next flush.
func (ix *Indexer) Watch(ctx context.Context, settle time.Duration, cb EventCallback) error {
	if settle <= 0 {
		settle = DefaultSettle
	}
	root := ix.store.Root()
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := watchTree(w, root); err != nil {
		return err
	}
	ix.logger.Info("watcher: started", slog.String("root", root), slog.Duration("settle", settle))

	notify := func(kind, path string) {
		if cb != nil && kind != "" {
			cb(kind, path)
		}
	}

	queue := &pending{paths: map[string]struct{}{}}
	timer := time.NewTimer(settle)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			ix.logger.Info("watcher: stopped")
			return nil

		case <-timer.C:
			paths, rec := queue.take()
			if rec {
				ix.reconcile(notify)
				continue
			}
			for _, rel := range paths {
				ix.settled(rel, notify)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if storage.Hidden(filepath.Base(ev.Name)) {
				continue
			}
			rel, err := filepath.Rel(root, ev.Name)
			if err != nil {
				continue
			}
			rel = filepath.ToSlash(rel)

			switch {
			case ev.Has(fsnotify.Create) && isDir(ev.Name):
				if err := watchTree(w, ev.Name); err != nil {
					ix.logger.Warn("watcher: add dir failed", slog.String("path", rel), slog.String("error", err.Error()))
				}
				for _, f := range filesUnder(root, ev.Name) {
					queue.paths[f] = struct{}{}
				}
			case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
				queue.paths[rel] = struct{}{}
			case ev.Has(fsnotify.Remove):
				delete(queue.paths, rel)
				if err := ix.Remove(rel); err != nil {
					ix.logger.Warn("watcher: remove failed", slog.String("path", rel), slog.String("error", err.Error()))
					continue
				}
				notify(EventDeleted, rel)
				continue
			case ev.Has(fsnotify.Rename):
				delete(queue.paths, rel)
				queue.reconcile = true
			default:
				continue
			}
			if !queue.empty() {
				timer.Reset(settle)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			ix.logger.Error("watcher: error", slog.String("error", err.Error()))
		}
	}
}

// settled catalogues one path after its quiet period. A file removed
// before it settled is silently dropped.
func (ix *Indexer) settled(rel string, notify EventCallback) {
	kind, err := ix.IndexFile(rel)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return
	case err != nil:
		ix.logger.Warn("watcher: index failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	ix.logger.Debug("watcher: indexed", slog.String("path", rel), slog.String("op", kind))
	notify(kind, rel)
}

// reconcile drops catalog rows whose file is gone and catalogues every
// file that is new or whose checksum changed.
func (ix *Indexer) reconcile(notify EventCallback) {
	known, err := ix.db.AllChecksums()
	if err != nil {
		ix.logger.Warn("reconcile: load checksums failed", slog.String("error", err.Error()))
		return
	}
	files, err := ix.store.List("")
	if err != nil {
		ix.logger.Warn("reconcile: list failed", slog.String("error", err.Error()))
		return
	}

	ingestID := uuid.NewString()
	onDisk := make(map[string]struct{}, len(files))
	for _, f := range files {
		onDisk[f.Path] = struct{}{}
	}
	for p := range known {
		if _, ok := onDisk[p]; ok {
			continue
		}
		if err := ix.db.DeleteScan(p); err == nil {
			notify(EventDeleted, p)
		}
	}
	for _, f := range files {
		prev, seen := known[f.Path]
		if seen && prev == f.Checksum {
			continue
		}
		kind, err := ix.apply(f, ingestID, seen)
		if err != nil {
			continue
		}
		notify(kind, f.Path)
	}
	ix.logger.Debug("reconcile: done", slog.String("ingest_id", ingestID), slog.Int("files", len(files)))
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

// filesUnder lists visible files below dir as root-relative slash paths.
// Files copied in together with their directory produce no event of
// their own.
func filesUnder(root, dir string) []string {
	var out []string
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if storage.Hidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if rel, err := filepath.Rel(root, p); err == nil {
			out = append(out, filepath.ToSlash(rel))
		}
		return nil
	})
	return out
}

// watchTree registers dir and every visible directory below it.
func watchTree(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != dir && storage.Hidden(d.Name()) {
			return filepath.SkipDir
		}
		return w.Add(p)
	})
}
