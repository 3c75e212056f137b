package config

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/dogmatiq/linger"
	"github.com/dogmatiq/linger/backoff"
	"github.com/fsnotify/fsnotify"

	logx "github.com/Aaditya1273/InsightMeet-sub000/pkg/logx"
)

// Watch reloads the config after the file changes, until ctx is done.
// Bursts of events within the debounce window cause one reload. The
// directory is watched rather than the file so editors that replace the
// file on save are followed. A broken watcher is recreated with backoff.
func (m *ConfigManager) Watch(ctx context.Context) error {
	retry := backoff.Counter{
		Strategy: backoff.WithTransforms(
			backoff.Exponential(250*time.Millisecond),
			linger.FullJitter,
			linger.Limiter(250*time.Millisecond, 5*time.Second),
		),
	}
	dir := filepath.Dir(m.path)

	for {
		w, err := newDirWatcher(dir)
		if err != nil {
			m.log.Warn("config watch setup failed", logx.String("dir", dir), logx.Err(err))
		} else {
			retry.Reset()
			m.log.Debug("watching config", logx.String("path", m.path))
			m.follow(ctx, w)
			_ = w.Close()
		}
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			m.log.Warn("config watcher stopped; recreating", logx.String("dir", dir))
		}
		if retry.Sleep(ctx, err) != nil {
			return nil
		}
	}
}

func newDirWatcher(dir string) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

// follow handles events for one watcher until ctx ends or the watcher
// fails.
func (m *ConfigManager) follow(ctx context.Context, w *fsnotify.Watcher) {
	name := filepath.Base(m.path)

	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-debounce.C:
			if _, err := m.Reload(ctx); err != nil {
				m.log.Warn("config reload failed", logx.String("path", m.path), logx.Err(err))
			}

		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) == name && !ev.Has(fsnotify.Remove) {
				debounce.Reset(m.debounce)
			}

		case err, ok := <-w.Errors:
			if !ok || errors.Is(err, fsnotify.ErrClosed) {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				debounce.Reset(m.debounce)
				continue
			}
			m.log.Warn("config watch error", logx.Err(err))
		}
	}
}
