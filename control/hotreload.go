// control/hotreload.go
// Author: momentics <momentics@gmail.com>
//
// Watches the configuration file and reloads the Loader on change.

package control

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
)

// Watcher reloads a Loader whenever its file is written or replaced.
type Watcher struct {
	loader  *Loader
	log     hclog.Logger
	fsw     *fsnotify.Watcher
	target  string
	done    chan struct{}
	stopped sync.WaitGroup
	once    sync.Once
}

// NewWatcher watches the directory of loader's file, which catches editors that
// write by rename.
func NewWatcher(loader *Loader, log hclog.Logger) (*Watcher, error) {
	if loader.FilePath() == "" {
		return nil, fmt.Errorf("watch config: no file configured")
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch config: %w", err)
	}
	target, err := filepath.Abs(loader.FilePath())
	if err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch config: %w", err)
	}
	if err := fsw.Add(filepath.Dir(target)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}
	w := &Watcher{
		loader: loader,
		log:    log,
		fsw:    fsw,
		target: target,
		done:   make(chan struct{}),
	}
	w.stopped.Add(1)
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer w.stopped.Done()
	w.log.Debug("watching configuration", "file", w.target)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if err := w.loader.Reload(); err != nil {
				w.log.Error("configuration reload failed", "file", w.target, "error", err)
				continue
			}
			w.log.Info("configuration reloaded", "file", w.target, "op", ev.Op.String())
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Error("configuration watcher error", "error", err)
		case <-w.done:
			return
		}
	}
}

// Close stops watching and waits for the watcher goroutine.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.fsw.Close()
		w.stopped.Wait()
	})
	return err
}
