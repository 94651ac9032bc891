package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/adi-253/talkie-chat/internal/config"
	"github.com/adi-253/talkie-chat/internal/handlers"
	"github.com/adi-253/talkie-chat/internal/logging"
	"github.com/adi-253/talkie-chat/internal/metrics"
	"github.com/adi-253/talkie-chat/internal/models"
	"github.com/adi-253/talkie-chat/internal/pgstore"
	"github.com/adi-253/talkie-chat/internal/realtime"
	"github.com/adi-253/talkie-chat/internal/services"
	"github.com/adi-253/talkie-chat/internal/session"
	"github.com/adi-253/talkie-chat/internal/supabase"
)

// backend is the Remote Data Service as the chat core consumes it.
// Both the PostgREST client and the direct Postgres store satisfy it.
type backend interface {
	services.Remote
	services.ScopeBackend
	services.ProfileSource
	services.UsageRecorder
	handlers.GroupLister
}

var (
	_ backend = (*supabase.Client)(nil)
	_ backend = (*pgstore.Store)(nil)
)

// app is the signed-in chat core shared by every command.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	auth     *supabase.Session
	rest     *supabase.Client
	pg       *pgstore.Store
	db       backend
	socket   *realtime.Socket
	profiles *services.ProfileDirectory
	scopes   *services.ScopeService
	self     models.Profile
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	if configPath != "" {
		os.Setenv("TALKIE_CONFIG", configPath)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if cfg.SupabaseURL == "" {
		return nil, nil, errors.New("SUPABASE_URL is required to sign in")
	}
	return cfg, logging.New(cfg.LogLevel), nil
}

// newApp signs in and connects the realtime socket. The socket is optional:
// without it sessions still send and read history, but see no pushes.
func newApp(ctx context.Context, realtimeOn bool) (*app, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, metrics: metrics.New()}

	a.auth = supabase.NewSession(cfg.SupabaseURL, cfg.SupabaseKey)
	switch {
	case cfg.RefreshToken != "":
		err = a.auth.Resume(ctx, cfg.RefreshToken)
	case cfg.Email != "":
		err = a.auth.SignIn(ctx, cfg.Email, cfg.Password)
	default:
		err = errors.New("set SUPABASE_REFRESH_TOKEN or SUPABASE_EMAIL and SUPABASE_PASSWORD")
	}
	if err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}
	logger.Info("signed in", "user", a.auth.UserID())

	a.rest = supabase.NewClient(cfg, a.auth, logger)
	a.db = a.rest
	if cfg.DatabaseURL != "" {
		a.pg, err = pgstore.Connect(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		a.db = a.pg
	}

	a.profiles = services.NewProfileDirectory(a.db)
	a.scopes = services.NewScopeService(a.db, a.rest, cfg.CommunityGroupID, logger)

	self, err := a.profiles.Get(ctx, a.auth.UserID())
	if err != nil {
		logger.Warn("own profile unavailable", "error", err)
		self = &models.Profile{ID: a.auth.UserID()}
	}
	a.self = *self

	if realtimeOn {
		socket, err := realtime.NewSocket(cfg.SupabaseURL, cfg.SupabaseKey, a.auth, cfg.HeartbeatInterval, logger)
		if err != nil {
			a.close()
			return nil, err
		}
		if err := socket.Connect(ctx); err != nil {
			logger.Warn("realtime unavailable, continuing without live updates", "error", err)
		} else {
			a.socket = socket
		}
	}
	return a, nil
}

func (a *app) close() {
	if a.socket != nil {
		a.socket.Close()
	}
	if a.pg != nil {
		a.pg.Close()
	}
}

// openSession is the session.Factory of every command.
func (a *app) openSession(ctx context.Context, scope models.Scope) (*session.Session, error) {
	return session.Open(ctx, session.Options{
		Scope:      scope,
		Self:       a.self,
		Remote:     a.db,
		Uploader:   a.rest,
		Usage:      a.db,
		Socket:     a.socket,
		Fallback:   a.rest,
		Challenges: a.db,
		Config:     a.cfg,
		Metrics:    a.metrics,
		Logger:     a.logger,
	})
}

func (a *app) manager(onOpen func(*session.Session)) *session.Manager {
	return session.NewManager(a.scopes, a.openSession, onOpen, a.logger)
}

// parseScope reads the <kind> [id] arguments of the chat commands.
func parseScope(args []string) (models.ScopeKind, string, error) {
	kind, ok := models.ParseScopeKind(args[0])
	if !ok {
		return "", "", fmt.Errorf("unknown scope kind %q (group, support, community)", args[0])
	}
	var id string
	if len(args) > 1 {
		id = args[1]
	}
	if id == "" && kind != models.ScopeCommunity {
		return "", "", fmt.Errorf("%s needs an id", kind)
	}
	return kind, id, nil
}
