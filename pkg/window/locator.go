package window

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/b/lessonmate/pkg/store"
)

const cacheKeyWindowID = "companionWindowId"

// Locator resolves the companion window. The persisted id is only a hint:
// every resolution checks it against the live windowing system and falls
// back to scanning for an orphaned companion page.
type Locator struct {
	sys     System
	kv      store.KV
	address string
	ids     *cache.Cache
	log     *zap.Logger
}

// NewLocator builds a locator. address is the companion page address a
// window must show to count as the companion, both for the persisted id and
// for the orphan scan. ttl bounds how long the persisted id is cached.
func NewLocator(sys System, kv store.KV, address string, ttl time.Duration, log *zap.Logger) *Locator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Locator{
		sys:     sys,
		kv:      kv,
		address: address,
		ids:     cache.New(ttl, 2*ttl),
		log:     log,
	}
}

// Resolve returns the live companion window, or nil when there is none.
// A nil window comes with the persisted id cleared.
func (l *Locator) Resolve(ctx context.Context) (*Window, error) {
	id, err := l.persistedID(ctx)
	if err != nil {
		// An unreadable hint is the same as a stale one.
		l.log.Warn("read companion window id", zap.Error(err))
		id = ""
	}

	if id != "" {
		w, err := l.sys.Get(ctx, id)
		switch {
		case err == nil && w.HasPage(l.address):
			return w, nil
		case err == nil:
			// Window ids are reused after the windowing system restarts.
			l.log.Info("companion window id names another window", zap.String("id", id))
		default:
			if !errors.Is(err, ErrNotFound) {
				l.log.Debug("get companion window", zap.String("id", id), zap.Error(err))
			}
			l.log.Info("stale companion window id", zap.String("id", id))
		}
	}

	w, err := l.scanOrphans(ctx)
	if err != nil {
		return nil, err
	}
	if w != nil {
		l.log.Info("recovered orphan companion window", zap.String("id", w.ID), zap.String("stale", id))
		if err := l.Remember(ctx, w.ID); err != nil {
			l.log.Warn("persist recovered window id", zap.Error(err))
		}
		return w, nil
	}

	if err := l.Forget(ctx); err != nil {
		l.log.Warn("clear companion window id", zap.Error(err))
	}
	return nil, nil
}

// scanOrphans returns the first window showing the companion page.
func (l *Locator) scanOrphans(ctx context.Context) (*Window, error) {
	windows, err := l.sys.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}
	for _, w := range windows {
		if w.HasPage(l.address) {
			return w, nil
		}
	}
	return nil, nil
}

// Remember persists id as the authoritative companion window.
func (l *Locator) Remember(ctx context.Context, id string) error {
	l.ids.Set(cacheKeyWindowID, id, cache.DefaultExpiration)
	if err := l.kv.Set(ctx, store.NSSession, store.KeyCompanionWindowID, id); err != nil {
		return fmt.Errorf("persist companion window id: %w", err)
	}
	return nil
}

// Forget clears the persisted id.
func (l *Locator) Forget(ctx context.Context) error {
	l.ids.Delete(cacheKeyWindowID)
	if err := l.kv.Delete(ctx, store.NSSession, store.KeyCompanionWindowID); err != nil {
		return fmt.Errorf("clear companion window id: %w", err)
	}
	return nil
}

func (l *Locator) persistedID(ctx context.Context) (string, error) {
	if v, ok := l.ids.Get(cacheKeyWindowID); ok {
		return v.(string), nil
	}
	id, ok, err := l.kv.Get(ctx, store.NSSession, store.KeyCompanionWindowID)
	if err != nil || !ok {
		return "", err
	}
	l.ids.Set(cacheKeyWindowID, id, cache.DefaultExpiration)
	return id, nil
}
