package settings

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// debounceInterval coalesces the burst of write events many editors/tools
// emit for a single logical save (write, chmod, rename-into-place).
const debounceInterval = 300 * time.Millisecond

// Watcher hot-reloads a Manager's settings file when it changes on disk,
// adapted from the teacher's ConfigReloader down to exactly the two
// concerns ActionTrace needs: debounce a burst of fs events, then reload
// and re-validate. The host editor is the expected writer — e.g. a
// settings UI saving outside this process.
type Watcher struct {
	manager *Manager
	logger  *logrus.Logger
	watcher *fsnotify.Watcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	onReload func(error)
}

// NewWatcher builds a Watcher for manager's currently loaded file. Returns
// an error only if the underlying fsnotify watcher can't be created; the
// settings file itself is not touched here. Start watches the file only,
// not its parent directory, so Start fails if the file does not exist.
func NewWatcher(manager *Manager, logger *logrus.Logger, onReload func(error)) (*Watcher, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		manager:  manager,
		logger:   logger,
		watcher:  fsw,
		ctx:      ctx,
		cancel:   cancel,
		onReload: onReload,
	}, nil
}

// Start begins watching manager's settings file and launches the debounce
// loop. A no-op if the manager has no path set (never loaded from disk).
func (w *Watcher) Start() error {
	path := w.manager.Path()
	if path == "" {
		w.logger.Debug("settings watcher has no file path to watch, skipping")
		return nil
	}
	if err := w.watcher.Add(path); err != nil {
		return err
	}

	w.wg.Add(1)
	go w.loop(path)
	return nil
}

// Stop halts the watcher and releases the fsnotify handle.
func (w *Watcher) Stop() {
	w.cancel()
	w.wg.Wait()
	w.watcher.Close()
}

func (w *Watcher) loop(path string) {
	defer w.wg.Done()

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(debounceInterval)
			timerC = timer.C
		case <-timerC:
			timerC = nil
			err := w.manager.LoadFile(path)
			if err != nil {
				w.logger.WithError(err).Warn("settings hot-reload failed, keeping previous settings")
			} else {
				w.logger.Info("settings hot-reloaded from disk")
			}
			if w.onReload != nil {
				w.onReload(err)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("settings watcher error")
		}
	}
}
