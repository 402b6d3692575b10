package app

import (
	"context"

	"mangawatch/internal/config"
	"mangawatch/internal/source"
	"mangawatch/internal/storage"
	"mangawatch/internal/watch"
	logx "mangawatch/pkg/logx"
)

// LoadConfig reads and fully validates the config file at path.
func LoadConfig(path string) (*config.Config, error) {
	cfg, err := config.NewConfigManager(path).Parse()
	if err != nil {
		return nil, err
	}
	if err := validateRuntime(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewExtractor builds the site registry and fetcher from cfg.
func NewExtractor(cfg *config.Config, log logx.Logger) (*source.Service, error) {
	reg, err := buildRegistry(cfg, log)
	if err != nil {
		return nil, err
	}
	return source.NewService(reg, source.NewFetcher(cfg.FetchTimeout(), cfg.Watch.UserAgent), log), nil
}

// Offline is storage access for one-shot CLI commands. The file driver is
// single-writer, so it takes the same lock as the daemon.
type Offline struct {
	Store   storage.Store
	Sources *source.Service

	release func()
}

func OpenOffline(cfg *config.Config, log logx.Logger) (*Offline, error) {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	release := func() {}
	if sc.Driver == "file" {
		lk, err := acquireLock(sc.Path)
		if err != nil {
			return nil, err
		}
		release = func() { _ = lk.Unlock() }
	}
	store, err := storage.Open(sc, log)
	if err != nil {
		release()
		return nil, err
	}
	src, err := NewExtractor(cfg, log)
	if err != nil {
		_ = store.Close()
		release()
		return nil, err
	}
	return &Offline{Store: store, Sources: src, release: release}, nil
}

// RegisterWork registers rawURL the same way the chat command does.
func (o *Offline) RegisterWork(ctx context.Context, rawURL string) (watch.TrackedWork, error) {
	ws := watch.NewService(watch.Config{}, o.Store, o.Store, o.Sources, nil, logx.Nop())
	return ws.RegisterWork(ctx, rawURL)
}

func (o *Offline) Close() error {
	err := o.Store.Close()
	o.release()
	return err
}
