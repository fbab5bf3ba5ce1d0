package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher delivers validated policy snapshots whenever the policy file is
// rewritten. Reloaded tunables only apply to regions created afterwards;
// a live region's mapping mode and capacity bounds are fixed at
// initialization and never change.
type Watcher struct {
	w       *fsnotify.Watcher
	path    string
	updates chan Policy
	errs    chan error
	done    chan struct{}
}

// Watch starts watching the policy file at path. The file does not need to
// exist yet; a later create in the same directory is picked up.
func Watch(path string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory so editors that replace the file (rename over)
	// keep being observed.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		_ = fw.Close()
		return nil, err
	}
	w := &Watcher{
		w:       fw,
		path:    filepath.Clean(path),
		updates: make(chan Policy, 8),
		errs:    make(chan error, 1),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			p, err := Load(w.path)
			if err != nil {
				select {
				case w.errs <- err:
				default:
				}
				continue
			}
			select {
			case w.updates <- p:
			default:
				// A slow consumer only misses intermediate revisions.
			}
		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			default:
			}
		}
	}
}

// Updates returns the channel of validated policy snapshots.
func (w *Watcher) Updates() <-chan Policy { return w.updates }

// Errors returns the channel of load and watch errors.
func (w *Watcher) Errors() <-chan error { return w.errs }

// Close stops the watcher.
func (w *Watcher) Close() error {
	err := w.w.Close()
	<-w.done
	return err
}
