package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/adi-253/talkie-chat/internal/handlers"
	"github.com/adi-253/talkie-chat/internal/session"
	"github.com/adi-253/talkie-chat/internal/websocket"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var uploadDir string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the companion daemon serving chat sessions over HTTP and websocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(uploadDir)
		},
	}
	cmd.Flags().StringVar(&uploadDir, "upload-dir", filepath.Join(os.TempDir(), "talkie-voice"), "where received voice clips are cached")
	return cmd
}

func runServe(uploadDir string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.close()

	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return fmt.Errorf("upload dir: %w", err)
	}

	// The hub is created after the manager; onOpen only runs once serving.
	var hub *websocket.Hub
	sessions := a.manager(func(s *session.Session) {
		render := func() (interface{}, error) {
			return handlers.Render(ctx, s, a.profiles, time.Local, a.logger), nil
		}
		go hub.Follow(s.Key(), s.Done(), render, s.Store.Changes(), s.Tracker.Changes())
	})
	defer sessions.CloseAll()

	presence := handlers.NewPresenceHandler(sessions)
	hub = websocket.NewHub(presence, a.logger)
	go hub.Run(ctx)

	router := handlers.NewRouter(handlers.RouterConfig{
		Scopes:    handlers.NewScopeHandler(a.db, a.scopes, sessions, a.self.ID),
		Messages:  handlers.NewMessageHandler(sessions, a.profiles, uploadDir, a.logger),
		Presence:  presence,
		WS:        websocket.NewHandler(hub, sessions).ServeWS,
		Metrics:   a.metrics.Handler(),
		Sessions:  func() int { return len(sessions.Keys()) },
		Origins:   a.cfg.CORSOrigins,
		StartedAt: time.Now(),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", a.cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("talkie daemon starting", "addr", srv.Addr, "cors", a.cfg.CORSOrigins)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		a.logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
