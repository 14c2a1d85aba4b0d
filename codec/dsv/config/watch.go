/*
NAME
  watch.go

DESCRIPTION
  watch.go hot-reloads an Encoder's JSON-encoded configuration file,
  following the package-level Log var idiom used elsewhere in this
  codebase (codec/jpeg/lex.go) for diagnostics.

AUTHOR
  Digital Subband Video contributors
*/

package config

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/ausocean/utils/logging"
)

// Log receives diagnostics from Watcher. Left unset, logging is silent.
var Log logging.Logger

// Watcher hot-reloads an Encoder's configuration from a JSON file,
// notifying a callback whenever the file changes on disk. Validate is
// run on every reload; a config that fails validation is logged and
// discarded, leaving the previously loaded configuration in place.
type Watcher struct {
	path    string
	onLoad  func(Encoder)
	watcher *fsnotify.Watcher

	mu  sync.Mutex
	cur Encoder
}

// WatchFile loads path once synchronously, then starts watching it for
// further changes, invoking onLoad on every successful (re)load
// including the initial one. The returned Watcher owns an fsnotify
// watcher goroutine; call Close to stop it.
func WatchFile(path string, onLoad func(Encoder)) (*Watcher, error) {
	w := &Watcher{path: path, onLoad: onLoad}
	if err := w.reload(); err != nil {
		return nil, errors.Wrap(err, "config: initial load failed")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "config: could not create file watcher")
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, errors.Wrapf(err, "config: could not watch %s", path)
	}
	w.watcher = fw

	go w.run()
	return w, nil
}

// Current returns the most recently, successfully loaded configuration.
func (w *Watcher) Current() Encoder {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cur
}

// Close stops watching the configuration file.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := w.reload(); err != nil {
				if Log != nil {
					Log.Warning("config: reload failed, keeping previous config", "path", w.path, "error", err.Error())
				}
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if Log != nil {
				Log.Warning("config: watcher error", "error", err.Error())
			}
		}
	}
}

func (w *Watcher) reload() error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return errors.Wrap(err, "config: read failed")
	}
	var e Encoder
	if err := json.Unmarshal(data, &e); err != nil {
		return errors.Wrap(err, "config: malformed json")
	}
	if err := e.Validate(); err != nil {
		return errors.Wrap(err, "config: invalid")
	}

	w.mu.Lock()
	w.cur = e
	w.mu.Unlock()

	if w.onLoad != nil {
		w.onLoad(e)
	}
	if Log != nil {
		Log.Info("config: loaded", "path", w.path)
	}
	return nil
}
