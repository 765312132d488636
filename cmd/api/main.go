package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/session-chat/backend/internal/config"
	"github.com/zhouzirui/session-chat/backend/internal/handler"
	"github.com/zhouzirui/session-chat/backend/internal/service/ai"
	"github.com/zhouzirui/session-chat/backend/internal/service/chat"
	"github.com/zhouzirui/session-chat/backend/internal/service/routing"
	"github.com/zhouzirui/session-chat/backend/internal/service/session"
	"github.com/zhouzirui/session-chat/backend/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		log.Fatalf("failed to open %s store: %v", cfg.Store.Driver, err)
	}
	defer st.Close()
	log.Printf("%s store ready", cfg.Store.Driver)

	provider, err := ai.NewProvider(ctx, cfg.AI)
	if err != nil {
		log.Fatalf("failed to initialize %s completion provider: %v", cfg.AI.Provider, err)
	}
	log.Printf("%s completion provider initialized", cfg.AI.Provider)

	classifier, err := routing.NewFixed(cfg.Session.Specialist)
	if err != nil {
		log.Fatalf("invalid CHAT_SPECIALIST: %v", err)
	}

	sessions := session.NewManager(st, session.WithTimeout(cfg.Session.Timeout))
	chatService := chat.NewService(sessions, provider, classifier)

	router := handler.NewRouter(chatService, cfg.Session.EchoSession)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("session chat backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Printf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
