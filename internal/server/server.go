package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/Tyrowin/chatrelay/internal/admission"
	"github.com/Tyrowin/chatrelay/internal/chat"
	"github.com/redis/go-redis/v9"
)

// App wires the chat engine, the admission limiter and the HTTP server.
type App struct {
	cfg      *Config
	log      *slog.Logger
	engine   *chat.Engine
	handlers *Handlers
	limiter  admission.Limiter
	window   *admission.SlidingWindow
	redis    *redis.Client
	server   *http.Server
}

// NewApp builds the application from cfg. When RedisAddr is set the admission
// window lives in Redis, otherwise in process memory.
func NewApp(ctx context.Context, cfg *Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	app := &App{cfg: cfg, log: logger}

	window := admission.Config{Limit: cfg.RateLimitRequests, Window: cfg.RateLimitWindow}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.RedisAddr,
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.RedisAddr, err)
		}
		app.redis = client
		app.limiter = admission.NewRedisSlidingWindow(client, window, "")
		logger.Info("Admission backed by Redis", "redis", cfg.RedisAddr)
	} else {
		app.window = admission.NewSlidingWindow(window)
		app.limiter = app.window
	}

	app.engine = chat.NewEngine(chat.Options{
		HistoryCapacity: cfg.HistoryCapacity,
		SendBufferSize:  cfg.SendBufferSize,
		TypingTimeout:   cfg.TypingTimeout,
		Logger:          logger,
	})
	app.handlers = NewHandlers(app.engine, NewOriginPolicy(cfg.Origins(), logger), cfg.MaxMessageSize, logger)
	app.server = CreateServer(cfg.Port, SetupRoutes(app.handlers, app.limiter, logger))
	return app, nil
}

// Engine exposes the chat engine.
func (a *App) Engine() *chat.Engine {
	return a.engine
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// Run serves until ctx is cancelled, then shuts everything down. It returns
// the listener error if serving failed for another reason.
func (a *App) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", a.cfg.Port)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.cfg.Port, err)
	}
	return a.Serve(ctx, listener)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, listener net.Listener) error {
	go a.engine.Run()
	a.log.Info("Engine started and ready to manage WebSocket connections")

	pruneCtx, stopPrune := context.WithCancel(ctx)
	defer stopPrune()
	if a.window != nil {
		go a.pruneAdmission(pruneCtx)
	}

	serveErr := make(chan error, 1)
	go func() {
		a.log.Info("Server listening", "addr", listener.Addr().String())
		serveErr <- a.server.Serve(listener)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	if err := a.Shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Shutdown stops accepting requests, closes every client connection and
// waits for their pumps, each step bounded by the shutdown timeout.
func (a *App) Shutdown() error {
	var errs []error
	if err := ShutdownServer(a.server, a.cfg.ShutdownTimeout, a.log); err != nil {
		errs = append(errs, err)
	}
	if err := a.engine.Shutdown(a.cfg.ShutdownTimeout); err != nil {
		errs = append(errs, fmt.Errorf("engine shutdown: %w", err))
	}
	if !a.handlers.Wait(a.cfg.ShutdownTimeout) {
		a.log.Warn("Client pumps still running after shutdown timeout")
		errs = append(errs, fmt.Errorf("client pumps: %w", context.DeadlineExceeded))
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (a *App) pruneAdmission(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.RateLimitWindow)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if removed := a.window.Prune(now); removed > 0 {
				a.log.Debug("Pruned idle admission records", "removed", removed, "tracked", a.window.Keys())
			}
		}
	}
}
