// Package reload watches a manifest file on disk and re-parses it on
// every write, pushing the freshly loaded manifest to a callback so a
// long-running server (or client) can swap its active Manifest without
// a restart.
package reload

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/janusipc/janus/pkg/manifest"
)

// ManifestFunc is called with the freshly parsed Manifest after every
// successful reload.
type ManifestFunc func(m *manifest.Manifest)

// Watcher tails one manifest file path via fsnotify and reparses it on
// write/create/rename events (editors commonly replace a file via a
// rename-into-place rather than an in-place write).
type Watcher struct {
	path   string
	onLoad ManifestFunc
	log    *logrus.Entry

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
}

// New builds a Watcher for path; it does not start watching until
// Start is called.
func New(path string, onLoad ManifestFunc, log *logrus.Entry) *Watcher {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	return &Watcher{
		path:   path,
		onLoad: onLoad,
		log:    log.WithField("component", "reload"),
		stopCh: make(chan struct{}),
	}
}

// Start performs an initial load, then begins watching the manifest
// file's parent directory (watching the directory rather than the file
// itself survives an editor's rename-into-place swap).
func (w *Watcher) Start() error {
	if err := w.reload(); err != nil {
		return errors.Wrap(err, "reload: initial manifest load")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "reload: creating file watcher")
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return errors.Wrap(err, "reload: watching manifest path")
	}

	w.mu.Lock()
	w.watcher = fw
	w.mu.Unlock()

	go w.loop(fw)
	return nil
}

func (w *Watcher) loop(fw *fsnotify.Watcher) {
	for {
		select {
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if err := w.reload(); err != nil {
				w.log.WithError(err).Warn("manifest reload failed, keeping previous manifest")
			} else {
				w.log.WithField("path", w.path).Info("manifest reloaded")
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("manifest watcher error")
		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) reload() error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return errors.Wrap(err, "reload: reading manifest file")
	}
	m, err := manifest.Parse(data)
	if err != nil {
		return err
	}
	w.onLoad(m)
	return nil
}

// Stop closes the underlying fsnotify watcher and exits the event loop.
// Safe to call multiple times or on a Watcher that was never started.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	if w.watcher != nil {
		w.watcher.Close()
	}
}
