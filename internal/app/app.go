// Package app wires the bot together: configuration, logging, storage,
// the fetch pipeline, the notifier and the Telegram surface.
package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"veloxbot/internal/command"
	"veloxbot/internal/config"
	"veloxbot/internal/fetch"
	"veloxbot/internal/mapimg"
	"veloxbot/internal/notify"
	"veloxbot/internal/runtime/supervisor"
	"veloxbot/internal/storage"
	"veloxbot/internal/transport"
	"veloxbot/internal/transport/telegram"
	"veloxbot/internal/watch"
	logx "veloxbot/pkg/logx"
)

const defaultImageCacheDir = "./map-cache"

// Options carry startup overrides that do not belong in the config file.
type Options struct {
	// Token overrides telegram.token from the config (environment wins).
	Token string
	// OfflinePath makes the fetcher read a saved page instead of the
	// live site. Local development only.
	OfflinePath string
}

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	store   storage.Store
	reg     *storage.Registry
	adapter *telegram.Adapter
	fan     *notify.Fanout
	pipe    *watch.Pipeline
	svc     *watch.Service
	router  *command.Router

	updates chan transport.Update
	cfgCh   chan *config.Config
}

func New(cfgPath string, opts Options) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logCfg, err := cfg.LogxConfig()
	if err != nil {
		return nil, err
	}
	logs, rootLog := logx.New(logCfg)
	log := rootLog.With(logx.String("comp", "app"))
	cfgm.SetLogger(rootLog.With(logx.String("comp", "config")))

	token := strings.TrimSpace(opts.Token)
	if token == "" {
		token = strings.TrimSpace(cfg.Telegram.Token)
	}
	if token == "" {
		return nil, errors.New("telegram token missing: set VELOXBOT_TOKEN or telegram.token")
	}
	pollTimeout, err := cfg.PollTimeout()
	if err != nil {
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       token,
		PollTimeout: pollTimeout,
	}, rootLog.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	storeCfg, err := cfg.StorageConfig()
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storeCfg, rootLog.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	reg, err := storage.NewRegistry(store, rootLog.With(logx.String("comp", "registry")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	fetchCfg, err := cfg.FetchConfig()
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	fetchCfg.OfflinePath = opts.OfflinePath
	fetcher := fetch.New(fetchCfg, rootLog.With(logx.String("comp", "fetch")))

	notifyCfg, err := cfg.NotifyConfig()
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	fan := notify.New(notifyCfg, adapter, rootLog.With(logx.String("comp", "notify")))

	if cfg.Images.Enabled {
		dlCfg, params, err := cfg.ImageSettings()
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		dir := strings.TrimSpace(cfg.Images.CacheDir)
		if dir == "" {
			dir = defaultImageCacheDir
		}
		cache, err := mapimg.NewCache(dir, rootLog.With(logx.String("comp", "mapimg")))
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		dl, err := mapimg.NewDownloader(dlCfg, rootLog.With(logx.String("comp", "mapimg")))
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		fan.EnableImages(cache, dl, params)
	}

	pipeCfg, err := cfg.PipelineConfig()
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	pipe, err := watch.NewPipeline(pipeCfg, fetcher, store, reg, fan,
		rootLog.With(logx.String("comp", "pipeline")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	watchCfg, err := cfg.WatchConfig()
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	svc, err := watch.NewService(watchCfg, pipe, rootLog.With(logx.String("comp", "watch")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	router := command.NewRouter(adapter, reg, svc, rootLog.With(logx.String("comp", "commands")))

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logs,
		store:   store,
		reg:     reg,
		adapter: adapter,
		fan:     fan,
		pipe:    pipe,
		svc:     svc,
		router:  router,
		updates: make(chan transport.Update, 256),
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	sctx := a.sup.Context()

	if err := a.adapter.Start(sctx, a.updates); err != nil {
		return err
	}

	// Best effort; the bot works without a published menu.
	mctx, cancel := context.WithTimeout(sctx, 10*time.Second)
	if err := a.adapter.UpdateMenuCommands(mctx, a.router.Commands()); err != nil {
		a.log.Warn("publishing command menu failed", logx.Err(err))
	}
	cancel()

	a.sup.GoRestart("commands", func(ctx context.Context) error {
		return a.router.Run(ctx, a.updates)
	})
	a.sup.GoRestart("config.watch", a.cfgm.Watch)
	a.cfgCh = a.cfgm.Subscribe(1)
	a.sup.Go("config.apply", func(ctx context.Context) error {
		a.applyLoop(ctx)
		return nil
	})

	a.svc.Start(sctx)
	a.log.Info("bot started",
		logx.Int("subscribers", a.reg.Len()),
		logx.Int("cameras", len(a.pipe.Baseline())))
	return nil
}

// Done is closed when the supervisor context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Stop(ctx context.Context) error {
	var firstErr error
	if a.svc != nil {
		if err := a.svc.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.adapter != nil {
		if err := a.adapter.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.sup != nil {
		if err := a.sup.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.cfgCh != nil {
		a.cfgm.Unsubscribe(a.cfgCh)
		a.cfgCh = nil
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.log.Info("bot stopped")
	return firstErr
}

// applyLoop applies hot-reloadable settings from accepted config
// versions: log level and sinks, and the quiet window. Schedule or
// storage changes need a restart and are only logged.
func (a *App) applyLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-a.cfgCh:
			if !ok {
				return
			}
			if cfg == nil {
				continue
			}
			if logCfg, err := cfg.LogxConfig(); err == nil {
				a.logs.Apply(logCfg)
			}
			if wc, err := cfg.WatchConfig(); err == nil {
				a.svc.SetQuiet(wc.Quiet)
				if wc.CronSpec != "" && wc.CronSpec != a.svc.CronSpec() {
					a.log.Warn("watch.cron changed; restart required to take effect")
				}
			}
		}
	}
}
