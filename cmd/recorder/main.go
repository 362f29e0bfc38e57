package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"sessionrecorder/internal/cdp"
	"sessionrecorder/internal/config"
	"sessionrecorder/internal/control"
	"sessionrecorder/internal/httpapi"
	"sessionrecorder/internal/logger"
	"sessionrecorder/internal/screenshot"
	"sessionrecorder/internal/session"
	"sessionrecorder/internal/storage"
	"sessionrecorder/pkg/model"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "配置文件路径")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	l := logger.New(logger.Options{
		Level:   cfg.Log.Level,
		Writers: cfg.Log.Writer,
		File: logger.FileOptions{
			Path:       cfg.Log.File.Path,
			MaxSizeMB:  cfg.Log.File.MaxSizeMB,
			MaxBackups: cfg.Log.File.MaxBackups,
			MaxAgeDays: cfg.Log.File.MaxAgeDays,
			Compress:   cfg.Log.File.Compress,
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, l); err != nil {
		l.Err(err, "录制服务异常退出")
		os.Exit(1)
	}
	l.Info("录制服务已退出")
}

func run(ctx context.Context, cfg *config.Config, l logger.Logger) error {
	var (
		eph storage.Ephemeral
		rc  *redis.Client
	)
	switch cfg.Ephemeral.Backend {
	case "redis":
		rc = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rc.Close()
		if err := rc.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		eph = storage.NewRedisStore(rc, cfg.Redis.Prefix)
	default:
		eph = storage.NewMemoryStore()
	}

	durable, err := storage.OpenSQLite(cfg.Sqlite.Dsn, cfg.Sqlite.Prefix, l.With("component", "sqlite"))
	if err != nil {
		return err
	}
	defer durable.Close()

	store := storage.NewManager(eph, durable, l.With("component", "storage"))
	defaults := model.DefaultSettings()
	defaults.SkipPasswords = cfg.Recorder.SkipPasswords
	defaults.ScreenshotThrottle = cfg.Recorder.ScreenshotThrottleMS
	store.SetDefaults(defaults)
	if err := store.Init(ctx); err != nil {
		return err
	}
	mirrorDone := make(chan struct{})
	go func() {
		defer close(mirrorDone)
		store.RunMirror(ctx)
	}()

	browser := cdp.NewBrowser(cfg.DevTools.URL, l.With("component", "cdp"))
	defer browser.Close()

	shots := screenshot.NewService(browser, l.With("component", "screenshot"),
		screenshot.WithBackoff(cfg.Recorder.ScreenshotRetries, cfg.Recorder.ScreenshotBackoff()))
	sessions := session.NewManager(store, shots, session.Options{
		SiteWatchers: cfg.Recorder.SiteWatchers,
		PollInterval: cfg.Recorder.PollInterval(),
		Debounce:     cfg.Recorder.Debounce(),
	}, l.With("component", "session"))
	defer sessions.Close()
	browser.OnFocus(sessions.SetActive)

	attach := func(info cdp.TargetInfo, created bool) {
		if cfg.DevTools.Target != "" && string(info.ID) != cfg.DevTools.Target {
			return
		}
		page, err := browser.Attach(ctx, info.ID)
		if err != nil {
			l.Err(err, "附加页面目标失败", "context", string(info.ID))
			return
		}
		if _, err := sessions.Attach(ctx, info.ID, page); err != nil {
			l.Err(err, "创建录制器失败", "context", string(info.ID))
		}
		if created {
			if err := sessions.RecordTabCreated(ctx, info.ID, info.URL); err != nil {
				l.Err(err, "记录新标签页失败", "context", string(info.ID))
			}
		}
	}

	targets, err := browser.Targets(ctx)
	if err != nil {
		return fmt.Errorf("list targets: %w", err)
	}
	for _, t := range targets {
		attach(t, false)
	}

	go func() {
		for {
			err := browser.Watch(ctx,
				func(info cdp.TargetInfo) { go attach(info, true) },
				func(id model.ContextID) {
					sessions.Detach(id)
					_ = browser.Detach(id)
				},
			)
			if ctx.Err() != nil {
				return
			}
			l.Err(err, "浏览器目标监听中断，稍后重连")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}()

	if rc != nil {
		go control.NewServer(rc, sessions, cfg.Redis.Prefix, l.With("component", "control")).Run(ctx)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	httpapi.Register(e, sessions, l.With("component", "http"))

	errc := make(chan error, 1)
	go func() {
		l.Info("HTTP 服务启动", "listen", cfg.HTTP.Listen)
		if err := e.Start(cfg.HTTP.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		l.Err(err, "HTTP 服务关闭失败")
	}
	<-mirrorDone
	if err := store.MirrorNow(shutdownCtx); err != nil {
		l.Err(err, "退出前镜像失败")
	}
	return nil
}
