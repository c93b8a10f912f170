package staleness

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces editor write bursts into one reload.
const reloadDebounce = 500 * time.Millisecond

// RulesWatcher hot-reloads a sensitivity rules file into a RuleSet.
// A rules file that stops parsing keeps the previous rules active.
type RulesWatcher struct {
	path    string
	ruleSet *RuleSet
	watcher *fsnotify.Watcher
	logger  *slog.Logger
}

// NewRulesWatcher creates a watcher for the given rules file.
func NewRulesWatcher(path string, rs *RuleSet, logger *slog.Logger) (*RulesWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RulesWatcher{
		path:    path,
		ruleSet: rs,
		watcher: fsw,
		logger:  logger,
	}, nil
}

// Start watches the rules file's directory until ctx is cancelled.
// Watching the directory rather than the file survives the
// rename-and-replace write pattern editors use.
func (w *RulesWatcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	go w.loop(ctx)
	w.logger.Info("sensitivity rules watcher started", "path", w.path)
	return nil
}

// Stop closes the underlying watcher.
func (w *RulesWatcher) Stop() error {
	return w.watcher.Close()
}

func (w *RulesWatcher) loop(ctx context.Context) {
	var timer *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("rules watcher error", "error", err)
		}
	}
}

func (w *RulesWatcher) reload() {
	rules, err := LoadRules(w.path)
	if err != nil {
		w.logger.Error("rules reload failed, keeping previous rules",
			"path", w.path, "error", err)
		return
	}
	w.ruleSet.Swap(rules)
	w.logger.Info("sensitivity rules reloaded", "path", w.path)
}
