// Package app wires the read-aloud subsystems into a running bot.
//
// The App struct owns the full lifecycle: New builds every subsystem from
// the config, Run serves the Discord gateway, the cache sweeper and the
// health listener until the context ends, and Shutdown tears everything
// down in order.
//
// For testing, inject doubles via functional options (WithBackend, WithBot).
// When an option is not provided, New creates real implementations from the
// config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/jinwktk/YomiageBotAlpha/internal/cache"
	"github.com/jinwktk/YomiageBotAlpha/internal/config"
	"github.com/jinwktk/YomiageBotAlpha/internal/discord"
	"github.com/jinwktk/YomiageBotAlpha/internal/discord/commands"
	"github.com/jinwktk/YomiageBotAlpha/internal/health"
	"github.com/jinwktk/YomiageBotAlpha/internal/lifecycle"
	"github.com/jinwktk/YomiageBotAlpha/internal/observe"
	"github.com/jinwktk/YomiageBotAlpha/internal/playback"
	"github.com/jinwktk/YomiageBotAlpha/internal/synth"
	"github.com/jinwktk/YomiageBotAlpha/internal/textnorm"
	"github.com/jinwktk/YomiageBotAlpha/pkg/audio"
	"github.com/jinwktk/YomiageBotAlpha/pkg/provider/tts"
)

// Bot is the Discord side of the application. *discord.Bot implements it.
type Bot interface {
	Bind(discord.Sessions)
	Platform() audio.Platform
	State() *discordgo.State
	Router() *discord.CommandRouter
	Permissions() *discord.PermissionChecker
	Ready() bool
	Run(ctx context.Context) error
	Close() error
}

var _ Bot = (*discord.Bot)(nil)

// App owns all subsystem lifetimes.
type App struct {
	cfg   *config.Config
	level *slog.LevelVar

	telemetry *observe.Telemetry
	backend   tts.Provider
	store     *cache.Store
	gateway   *synth.Gateway
	sessions  *lifecycle.Manager
	stats     *discord.PlaybackStats
	bot       Bot
	handler   http.Handler

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithBackend injects a synthesis backend instead of creating one from the
// registry.
func WithBackend(p tts.Provider) Option {
	return func(a *App) { a.backend = p }
}

// WithBot injects the Discord side instead of connecting with the token.
func WithBot(b Bot) Option {
	return func(a *App) { a.bot = b }
}

// WithLogLevel sets the level variable that config reloads update. main
// passes the one its handler was built with.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Resources opened
// before a failing step are released before New returns the error.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (_ *App, err error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
		a.level.Set(cfg.Server.LogLevel.Level())
	}

	defer func() {
		if err != nil {
			a.release()
		}
	}()

	// ── 1. Telemetry ────────────────────────────────────────────────────
	a.telemetry, err = observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "yomiage"})
	if err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}
	metrics := a.telemetry.Metrics

	// ── 2. Synthesis backend ────────────────────────────────────────────
	if a.backend == nil {
		a.backend, err = NewBackendRegistry().CreateBackend(cfg.Synthesis)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
	}

	// ── 3. Cache ────────────────────────────────────────────────────────
	a.store, err = cache.Open(ctx, CacheConfig(cfg.Cache), cache.WithMetrics(metrics))
	if err != nil {
		return nil, fmt.Errorf("app: open cache: %w", err)
	}

	// ── 4. Gateway and text ─────────────────────────────────────────────
	a.gateway = synth.New(a.backend, a.store, synthConfig(cfg.Synthesis), synth.WithMetrics(metrics))
	norm := textnorm.New(textOptions(cfg.Text))

	// ── 5. Discord ──────────────────────────────────────────────────────
	if a.bot == nil {
		bot, err := discord.New(discordConfig(cfg.Discord))
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.bot = bot
	}

	// ── 6. Sessions ─────────────────────────────────────────────────────
	lcfg, err := lifecycleConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.stats = discord.NewPlaybackStats(0)
	a.sessions = lifecycle.New(a.bot.Platform(), a.gateway, norm, lcfg,
		lifecycle.WithMetrics(metrics),
		lifecycle.WithPlaybackOptions(playback.WithObserver(a.stats.Observe)),
	)
	a.bot.Bind(a.sessions)

	// ── 7. Commands ─────────────────────────────────────────────────────
	a.registerCommands()

	// ── 8. HTTP surface ─────────────────────────────────────────────────
	a.handler = a.newHandler()

	slog.Info("app initialised",
		"backend", a.backend.Name(),
		"cache_root", cfg.Cache.Root,
		"cache_entries", a.store.Stats().Entries,
		"commands", len(a.bot.Router().ApplicationCommands()),
	)
	return a, nil
}

func (a *App) registerCommands() {
	router := a.bot.Router()
	perms := a.bot.Permissions()

	commands.NewChannelCommands(a.sessions, commands.StateLocator(a.bot.State)).Register(router)
	commands.NewQueueCommands(a.sessions).Register(router)

	// Style autocompletion needs a backend that can list its models.
	models, _ := a.backend.(tts.Checker)
	commands.NewVoiceCommands(a.sessions, perms, models).Register(router)

	commands.NewCacheCommands(a.store, perms).Register(router)
	commands.NewStatsCommands(a.stats, a.sessions, a.gateway.BreakerState).Register(router)
}

func (a *App) newHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(observe.Middleware(a.telemetry.Metrics))

	health.New(
		health.CacheWritable(a.store),
		health.GatewayReady(a.bot.Ready),
		health.BreakerClosed(a.gateway),
	).Register(r)
	r.Handle("/metrics", a.telemetry.Handler)
	return r
}

// Handler returns the HTTP handler serving /healthz, /readyz and /metrics.
func (a *App) Handler() http.Handler { return a.handler }

// Sessions returns the session manager.
func (a *App) Sessions() *lifecycle.Manager { return a.sessions }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves until ctx is cancelled or a component fails. The Discord
// gateway, the cache sweeper and the HTTP listener run in one errgroup; the
// first failure cancels the others. Run returns ctx.Err() after a clean
// stop.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.bot.Run(gctx) })
	g.Go(func() error { return a.store.Run(gctx) })

	if addr := a.cfg.Server.ListenAddr; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           a.handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			slog.Info("http listener started", "addr", addr, "tls", a.cfg.Server.TLS != nil)
			var err error
			if tls := a.cfg.Server.TLS; tls != nil {
				err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
			} else {
				err = srv.ListenAndServe()
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("app: http listener: %w", err)
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	slog.Info("app running", "listen_addr", a.cfg.Server.ListenAddr)
	err := g.Wait()
	if ctx.Err() != nil && (err == nil || errors.Is(err, context.Canceled)) {
		return ctx.Err()
	}
	return err
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the hot-reloadable parts of a changed config: log level,
// default voice, greeting templates and the overflow policy. Other changes
// are logged and wait for a restart. Its signature matches the
// config.Watcher callback.
func (a *App) Reload(old, new *config.Config) {
	d := config.Diff(old, new)

	if d.LogLevelChanged {
		a.level.Set(d.NewLogLevel.Level())
		slog.Info("config: log level changed", "level", d.NewLogLevel)
	}
	if d.VoiceChanged || d.GreetingsChanged || d.OverflowChanged {
		r, err := reloadable(new)
		if err == nil {
			err = a.sessions.Reload(r)
		}
		if err != nil {
			slog.Warn("config: reload rejected", "err", err)
		} else {
			slog.Info("config: reloaded",
				"voice", d.VoiceChanged,
				"greetings", d.GreetingsChanged,
				"overflow", d.OverflowChanged,
			)
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config: changes take effect after restart", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown leaves every voice channel, then cancels pending synthesis and
// closes the Discord gateway, the cache and the telemetry exporters, in that
// order. Voice sessions get the ctx deadline to
// finish; the rest is closed regardless.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "sessions", len(a.sessions.Sessions()))

		if err := a.sessions.Shutdown(ctx); err != nil {
			slog.Warn("session shutdown incomplete", "err", err)
			shutdownErr = err
		}
		a.release()
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// release closes whatever New managed to open.
func (a *App) release() {
	if a.gateway != nil {
		a.gateway.Close()
	}
	if a.bot != nil {
		if err := a.bot.Close(); err != nil {
			slog.Warn("discord bot close error", "err", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			slog.Warn("cache close error", "err", err)
		}
	}
	if a.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.telemetry.Shutdown(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}
}
