package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors the configured JSON document and invokes the supplied
// callback with the freshly-loaded, validated Config whenever the file
// changes. Stop must be called to release filesystem resources.
type Watcher struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop halts the watcher and waits for the underlying goroutine to exit.
func (w *Watcher) Stop() {
	if w == nil {
		return
	}
	w.once.Do(func() {
		w.cancel()
		<-w.done
	})
}

// Watch wires fsnotify around the loader's primary config file and reloads
// on any write/create/rename/remove/chmod event, debounced to absorb editors that
// truncate-then-write.
func (l *Loader) Watch(ctx context.Context, onChange func(Config), onError func(error)) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("config: watch requires a change callback")
	}
	if len(l.files) == 0 || l.files[0] == "" {
		return nil, fmt.Errorf("config: no config file configured for watching")
	}
	target := l.files[0]

	watchCtx, cancel := context.WithCancel(ctx)
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("config: watch: %w", err)
	}

	resolved, err := filepath.Abs(target)
	if err != nil {
		resolved = target
	}
	resolved = filepath.Clean(resolved)

	if err := fsw.Add(filepath.Dir(resolved)); err != nil {
		_ = fsw.Close()
		cancel()
		return nil, fmt.Errorf("config: watch add %s: %w", filepath.Dir(resolved), err)
	}

	done := make(chan struct{})
	watcher := &Watcher{cancel: cancel, done: done}

	go func() {
		defer close(done)
		defer func() { _ = fsw.Close() }()

		const debounce = 25 * time.Millisecond
		var timer *time.Timer
		var signal <-chan time.Time
		schedule := func() {
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounce)
			}
			signal = timer.C
		}

		reload := func() {
			cfg, err := l.Load(watchCtx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				if onError != nil {
					onError(fmt.Errorf("config: reload: %w", err))
				}
				return
			}
			onChange(cfg)
		}

		for {
			select {
			case <-watchCtx.Done():
				return
			case <-signal:
				reload()
			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != resolved {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
					schedule()
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(fmt.Errorf("config: watch error: %w", err))
				}
			}
		}
	}()

	return watcher, nil
}
