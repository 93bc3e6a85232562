package config

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "firefeed/pkg/logx"
)

const (
	watchDebounce   = 250 * time.Millisecond
	watchBackoffMin = 250 * time.Millisecond
	watchBackoffMax = 5 * time.Second
)

// Watch reloads the file whenever it changes, until ctx ends. Editors often
// replace the file, so the directory is watched. A broken watcher is rebuilt
// with jittered backoff.
func (m *Manager) Watch(ctx context.Context) error {
	d := &debouncer{delay: watchDebounce, fn: func() { m.reload() }}
	defer d.stop()

	backoff := watchBackoffMin
	for ctx.Err() == nil {
		started, err := m.watchOnce(ctx, d.trigger)
		if ctx.Err() != nil {
			return nil
		}
		if started {
			backoff = watchBackoffMin
		}
		wait := backoff + rand.N(backoff/2+1)
		backoff = min(backoff*2, watchBackoffMax)
		m.log.Warn("config watcher stopped, restarting", logx.Err(err), logx.Duration("backoff", wait))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
	return nil
}

// watchOnce runs one fsnotify watcher. started reports whether events were
// flowing before it broke.
func (m *Manager) watchOnce(ctx context.Context, changed func()) (started bool, err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return false, fmt.Errorf("new watcher: %w", err)
	}
	defer w.Close()

	dir, file := filepath.Dir(m.path), filepath.Base(m.path)
	if err := w.Add(dir); err != nil {
		return false, fmt.Errorf("watch %s: %w", dir, err)
	}
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))

	for {
		select {
		case <-ctx.Done():
			return true, nil
		case ev, ok := <-w.Events:
			if !ok {
				return true, errors.New("event stream closed")
			}
			if touchesConfig(ev, file) {
				changed()
			}
		case err, ok := <-w.Errors:
			switch {
			case !ok:
				return true, errors.New("error stream closed")
			case errors.Is(err, fsnotify.ErrEventOverflow):
				// events may have been missed
				m.log.Warn("config watch overflow, reloading", logx.Err(err))
				changed()
			case errors.Is(err, fsnotify.ErrClosed):
				return true, err
			case err != nil:
				m.log.Warn("config watch error", logx.Err(err))
			}
		}
	}
}

func touchesConfig(ev fsnotify.Event, file string) bool {
	if !strings.EqualFold(filepath.Base(ev.Name), file) {
		return false
	}
	return ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0
}

// debouncer runs fn once a burst of triggers has been quiet for delay.
type debouncer struct {
	delay time.Duration
	fn    func()

	mu sync.Mutex
	t  *time.Timer
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.t == nil {
		d.t = time.AfterFunc(d.delay, d.fn)
		return
	}
	d.t.Reset(d.delay)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.t != nil {
		d.t.Stop()
	}
}
