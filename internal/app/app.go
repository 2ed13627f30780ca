// Package app assembles the tracker from its configuration: storage,
// services and the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/weintegritywork/weintegrity-ppm/internal/account"
	"github.com/weintegritywork/weintegrity-ppm/internal/audit"
	"github.com/weintegritywork/weintegrity-ppm/internal/auth"
	"github.com/weintegritywork/weintegrity-ppm/internal/chat"
	"github.com/weintegritywork/weintegrity-ppm/internal/config"
	"github.com/weintegritywork/weintegrity-ppm/internal/crud"
	"github.com/weintegritywork/weintegrity-ppm/internal/mail"
	"github.com/weintegritywork/weintegrity-ppm/internal/models"
	"github.com/weintegritywork/weintegrity-ppm/internal/notify"
	"github.com/weintegritywork/weintegrity-ppm/internal/seed"
	"github.com/weintegritywork/weintegrity-ppm/internal/server"
	"github.com/weintegritywork/weintegrity-ppm/internal/store"
	"github.com/weintegritywork/weintegrity-ppm/internal/store/memstore"
	"github.com/weintegritywork/weintegrity-ppm/internal/store/mongostore"
)

// hubBuffer is the per-connection event queue length before a subscriber
// counts as lagging.
const hubBuffer = 64

const closeTimeout = 5 * time.Second

type App struct {
	Backend store.Backend
	Server  *server.Server
	logger  *slog.Logger
}

// Option adjusts assembly, mostly for tests.
type Option func(*options)

type options struct {
	backend store.Backend
	argon   auth.ArgonParams
	mailer  mail.Mailer
}

// WithBackend skips opening storage and uses b.
func WithBackend(b store.Backend) Option {
	return func(o *options) { o.backend = b }
}

func WithArgon(p auth.ArgonParams) Option {
	return func(o *options) { o.argon = p }
}

func WithMailer(m mail.Mailer) Option {
	return func(o *options) { o.mailer = m }
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	o := options{argon: auth.DefaultArgon}
	for _, fn := range opts {
		fn(&o)
	}

	b := o.backend
	if b == nil {
		var err error
		if b, err = OpenBackend(ctx, cfg, logger); err != nil {
			return nil, err
		}
	}

	resources := crud.Resources(o.argon)
	if err := b.EnsureIndexes(ctx, Indexes(resources)); err != nil {
		_ = b.Close(ctx)
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}

	tokens, err := auth.NewTokenService(cfg.JWTSecret)
	if err != nil {
		_ = b.Close(ctx)
		return nil, err
	}

	mailer := o.mailer
	if mailer == nil {
		mailer = mail.New(cfg.SMTP, logger)
	}
	if !mailer.Enabled() {
		logger.Warn("smtp is not configured; password reset codes are not delivered")
	}

	log := audit.New(audit.DefaultCapacity)
	engines := make([]*crud.Engine, 0, len(resources))
	for _, res := range resources {
		engines = append(engines, crud.New(b, res, log))
	}

	accounts := account.New(b, tokens, mailer, log, logger, account.Options{
		Argon:  o.argon,
		OTPTTL: cfg.OTPTTL,
		Debug:  cfg.Debug,
	})
	chats := chat.NewService(b, chat.NewHub(hubBuffer, logger), notify.New(b, logger), log, logger)

	seedFn := func(ctx context.Context) (map[string]int, error) {
		data, err := seed.Load(cfg.SeedFile)
		if err != nil {
			return nil, err
		}
		return seed.Apply(ctx, b, data, o.argon)
	}

	srv := server.New(server.Deps{
		Backend:  b,
		Tokens:   tokens,
		Accounts: accounts,
		Chat:     chats,
		Engines:  engines,
		Audit:    log,
		Seed:     seedFn,
		Logger:   logger,
	}, server.Options{
		Addr:            cfg.HTTPAddr,
		AllowedOrigins:  cfg.AllowedOrigins,
		MaxBodyBytes:    cfg.MaxBodyBytes,
		Debug:           cfg.Debug,
		ReadTimeout:     cfg.ReadTimeout,
		IdleTimeout:     cfg.IdleTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	})

	return &App{Backend: b, Server: srv, logger: logger}, nil
}

// OpenBackend connects the configured storage. With MemoryFallback set, an
// unreachable Mongo degrades to the in-memory backend; the switch is logged
// loudly since nothing written there survives a restart.
func OpenBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Backend, error) {
	if cfg.StorageBackend == config.BackendMemory {
		logger.Info("using in-memory storage")
		return memstore.New(), nil
	}
	b, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDB, cfg.MongoConnectTimeout)
	if err == nil {
		logger.Info("connected to mongo", "db", cfg.MongoDB)
		return b, nil
	}
	if cfg.MemoryFallback && errors.Is(err, store.ErrUnavailable) {
		logger.Error("mongo unreachable, falling back to in-memory storage", "error", err)
		return memstore.New(), nil
	}
	return nil, fmt.Errorf("open storage: %w", err)
}

// Indexes lists every index the services rely on.
func Indexes(resources []crud.Resource) []store.Index {
	var idx []store.Index
	for _, res := range resources {
		idx = append(idx, store.Index{Collection: res.Collection, Field: "id", Unique: true})
	}
	idx = append(idx, store.Index{Collection: models.Notifications, Field: "userId"})
	idx = append(idx, account.Indexes()...)
	idx = append(idx, chat.Indexes()...)
	return idx
}

// Run serves until ctx is done and then closes storage.
func (a *App) Run(ctx context.Context) error {
	runErr := a.Server.Run(ctx)
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	if err := a.Backend.Close(cctx); err != nil {
		a.logger.Warn("closing storage", "error", err)
	}
	return runErr
}
