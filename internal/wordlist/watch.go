package wordlist

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the banned list whenever the file changes. Editors often
// replace files via rename, so the path is re-added on Remove/Rename and
// events are debounced before reloading. The returned func stops the watch.
func (l *List) Watch(path string) (func(), error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer w.Close()
		debounce := time.NewTimer(0)
		if !debounce.Stop() {
			<-debounce.C
		}
		for {
			select {
			case <-done:
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					if err := w.Add(ev.Name); err != nil {
						slog.Error("wordlist: watch re-add", "path", ev.Name, "err", err)
					}
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					if !debounce.Stop() {
						select {
						case <-debounce.C:
						default:
						}
					}
					debounce.Reset(250 * time.Millisecond)
				}
			case <-debounce.C:
				if err := l.LoadFile(path); err != nil {
					slog.Error("wordlist: reload failed", "path", path, "err", err)
				} else {
					slog.Info("wordlist: reloaded", "path", path, "words", len(l.Banned()))
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Error("wordlist: watch error", "err", err)
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }, nil
}
