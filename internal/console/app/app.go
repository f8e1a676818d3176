package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/aussiebroadwan/oltmanager/internal/credstore"
	credredis "github.com/aussiebroadwan/oltmanager/internal/credstore/drivers/redis"
	"github.com/aussiebroadwan/oltmanager/internal/credstore/drivers/sqlite"
	"github.com/aussiebroadwan/oltmanager/internal/credstore/memory"
	"github.com/aussiebroadwan/oltmanager/pkg/cryptox"
	"github.com/aussiebroadwan/oltmanager/pkg/notify"
	"github.com/aussiebroadwan/oltmanager/pkg/oltsdk"
	"github.com/aussiebroadwan/oltmanager/pkg/realtime"
	"github.com/aussiebroadwan/oltmanager/pkg/session"
	"github.com/aussiebroadwan/oltmanager/pkg/slogx"
	"github.com/redis/go-redis/v9"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// ErrNoSession is returned by Run when there is neither a usable stored
// session nor a configured username to log in with.
var ErrNoSession = errors.New("no stored session and OLT_USERNAME is not set")

// Application is the headless operator console: it keeps a session with the
// OLT Manager API alive and streams realtime events while it runs.
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	store  credstore.Store
	client *oltsdk.SDKClient

	// Services
	session   *session.Manager
	channel   *realtime.Channel
	binder    *Binder
	refresher *Refresher

	// prompt asks for a password when none is configured.
	prompt func(username string) (string, error)

	unsubEvents  func()
	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a new Application instance with all dependencies initialized
func New(cfg Config) (*Application, error) {
	if cfg.WSURL == "" {
		cfg.WSURL = DeriveWSURL(cfg.APIURL)
	}

	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "oltconsole",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
			Output:  cfg.LogOutput,
		}),
		prompt: promptPassword,
	}

	if err := app.initStore(); err != nil {
		return nil, err
	}

	app.initServices()
	return app, nil
}

// Session exposes the session manager.
func (app *Application) Session() *session.Manager { return app.session }

// Channel exposes the realtime channel.
func (app *Application) Channel() *realtime.Channel { return app.channel }

// Run restores or establishes a session, then streams realtime events until
// ctx is cancelled or SIGINT/SIGTERM arrives.
func (app *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app.logger.Info("olt console starting",
		"api_url", app.cfg.APIURL,
		"ws_url", app.cfg.WSURL,
		"credential_store", app.cfg.CredentialStore,
	)

	if len(app.cfg.Topics) > 0 {
		app.channel.SubscribeTopics(app.cfg.Topics...)
	}
	app.binder.Start()
	app.refresher.Start()

	if err := app.session.Initialize(ctx); err != nil {
		_ = app.Shutdown()
		return fmt.Errorf("failed to restore session: %w", err)
	}

	if !app.session.IsAuthenticated() {
		if app.cfg.Username == "" {
			_ = app.Shutdown()
			return ErrNoSession
		}
		if err := app.login(ctx); err != nil {
			_ = app.Shutdown()
			return fmt.Errorf("login failed: %w", err)
		}
	}

	<-ctx.Done()
	app.logger.Info("shutdown requested", "cause", context.Cause(ctx))

	return app.Shutdown()
}

// Shutdown disconnects the channel, stops background workers and closes the
// credential store. The session stays persisted for the next start. Safe to
// call more than once.
func (app *Application) Shutdown() error {
	app.shutdownOnce.Do(func() {
		app.logger.Info("shutting down olt console...")

		done := make(chan struct{})
		go func() {
			defer close(done)
			app.binder.Stop()
			app.refresher.Stop()
			app.unsubEvents()
			app.channel.Disconnect()
		}()

		select {
		case <-done:
		case <-time.After(app.cfg.gracePeriod()):
			app.logger.Error("graceful shutdown timed out", "grace_period", app.cfg.gracePeriod())
		}

		if err := app.store.Close(); err != nil {
			app.logger.Error("error closing credential store", "error", err)
			app.shutdownErr = err
			return
		}

		app.logger.Info("olt console stopped")
	})
	return app.shutdownErr
}

func (cfg Config) gracePeriod() time.Duration {
	if cfg.ShutdownGracePeriod <= 0 {
		return 10 * time.Second
	}
	return cfg.ShutdownGracePeriod
}

// initStore opens the configured credential store and seals it when a master
// key is available.
func (app *Application) initStore() error {
	var (
		store credstore.Store
		err   error
	)

	switch app.cfg.CredentialStore {
	case "memory":
		store = memory.New()
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: app.cfg.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		store, err = credredis.New(credredis.Config{Client: client})
	case "", "sqlite":
		store, err = sqlite.Open(app.cfg.CredentialDB)
	default:
		return fmt.Errorf("unknown credential store %q", app.cfg.CredentialStore)
	}
	if err != nil {
		return fmt.Errorf("failed to open credential store: %w", err)
	}

	sealer, err := cryptox.LoadSealer(app.cfg.MasterKeyPath)
	switch {
	case errors.Is(err, cryptox.ErrNoMasterKey):
		app.logger.Warn("no master key configured, tokens are stored unsealed")
		app.store = store
	case err != nil:
		_ = store.Close()
		return fmt.Errorf("failed to load master key: %w", err)
	default:
		app.logger.Info("credential sealing enabled")
		sealed := credstore.NewSealed(store, sealer)
		sealed.Logger = app.logger.With("component", "credstore")
		app.store = sealed
	}
	return nil
}

// initServices wires the SDK client, session manager, realtime channel and
// their coupling.
func (app *Application) initServices() {
	notifier := notify.SlogNotifier{Logger: app.logger.With("component", "notify")}

	app.client = oltsdk.NewSDKClient(app.cfg.APIURL, app.logger)
	app.client.SetRateLimit(app.cfg.APIRateLimit, oltsdk.DefaultBurst)

	app.session = session.New(session.Config{
		Client:   app.client,
		Store:    app.store,
		Notifier: notifier,
		Logger:   app.logger,
	})

	app.channel = realtime.New(realtime.Config{
		URL:          app.cfg.WSURL,
		Tokens:       app.session,
		Notifier:     notifier,
		Logger:       app.logger,
		BaseDelay:    app.cfg.ReconnectBaseDelay,
		MaxAttempts:  app.cfg.ReconnectMaxAttempts,
		PingInterval: app.cfg.PingInterval,
	})

	app.unsubEvents = app.channel.SubscribeMultiple([]string{
		realtime.TypeAlarm,
		realtime.TypePerformanceUpdate,
		realtime.TypeONTStatusChange,
		realtime.TypeSystemNotification,
	}, app.logEvent)

	app.binder = NewBinder(app.session, app.channel, app.logger.With("component", "binder"))
	app.refresher = NewRefresher(app.session, app.logger.With("component", "refresher"), app.cfg.RefreshInterval)
}

func (app *Application) logEvent(msg realtime.Message) {
	app.logger.Info("realtime_event", "type", msg.Type, "payload", string(msg.Payload))
}

func (app *Application) login(ctx context.Context) error {
	password := app.cfg.Password
	if password == "" {
		p, err := app.prompt(app.cfg.Username)
		if err != nil {
			return err
		}
		password = p
	}

	creds := oltsdk.Credentials{Username: app.cfg.Username, Password: password}
	if app.cfg.TOTPSecret != "" {
		code, err := oltsdk.TOTPCode(app.cfg.TOTPSecret, time.Now())
		if err != nil {
			return err
		}
		creds.OTPCode = code
	}

	_, err := app.session.Login(ctx, creds)
	return err
}
