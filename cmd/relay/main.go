package main

import (
	"context"
	goerrors "errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"

	"dm-relay/auth"
	"dm-relay/domain/event"
	"dm-relay/infrastructure/ws"
	"dm-relay/internal"
	"dm-relay/moderation"
	"dm-relay/repositories"
	"dm-relay/runtime"
	"dm-relay/runtime/workers"
	"dm-relay/services"
)

// Exit codes to provide meaningful status to the operating system or
// service manager (e.g. systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	// The main function acts as a thin wrapper. Its only responsibility is
	// to call run() and handle the OS exit code.
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Relay terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run initializes all components, manages the server lifecycle, and
// centralizes error reporting, so every defer (database close included)
// executes before the process exits.
func run() (int, error) {
	// 1. Configuration & logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}

	charReplacement, err := internal.CharacterRune(config.CharReplacement)
	if err != nil {
		return exitConfig, err
	}

	logger := logs.GetLoggerFromString(config.LogLevel)
	ctx := context.Background()

	// 2. Database
	options := badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(options)
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Moderation
	censored, err := runtime.LoadCensoredWords()
	if err != nil {
		return exitRuntime, fmt.Errorf("censored words loading failed: %w", err)
	}
	logger.Info(fmt.Sprintf("%d censored words loaded [%s]",
		len(censored.Words), strings.Join(censored.Languages, ",")))
	moderator, err := moderation.NewModerator(censored.Words, charReplacement, logger)
	if err != nil {
		return exitRuntime, fmt.Errorf("moderator build failed: %w", err)
	}

	// 4. Core wiring: repositories, registry, presence, broker
	userRepository := repositories.NewUserRepository(db)
	conversationRepository := repositories.NewConversationRepository(db, logger)
	messageRepository := repositories.NewMessageRepository(db, logger)

	tokenService := auth.NewTokenService(config.TokenSecret, config.AuthTokenDuration)
	registry := runtime.NewRegistry()
	events := make(chan event.Event, config.BufferSize)
	presence := runtime.NewPresence(userRepository, events, logger)
	supervisor := workers.NewSupervisor(logger, config.RestartInterval)
	supervisor.Add(workers.NewTelemetryWorker(logger, registry, config.MetricInterval))

	broker := runtime.NewBroker(logger, supervisor, registry, presence,
		tokenService, conversationRepository, messageRepository,
		userRepository, &moderator, events,
		config.BufferSize, config.SinkTimeout)

	chatService := services.NewChatService(broker)

	// 5. Context & signals
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 2)

	// 6. Start the broker (fan-out and supervised workers)
	go func() {
		logger.Info("Starting broker...")
		if err := broker.Start(ctx); err != nil {
			errChan <- fmt.Errorf("broker error: %w", err)
		}
	}()

	// 7. HTTP server exposing the websocket endpoint
	mux := http.NewServeMux()
	mux.Handle("/ws", ws.NewServer(logger, chatService,
		config.ConnectionBufferSize, config.MaxContentLength))

	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	httpServer := &http.Server{Addr: address, Handler: mux}
	go func() {
		logger.Info(fmt.Sprintf("Relay listening on %s", address))
		if err := httpServer.ListenAndServe(); err != nil &&
			!goerrors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	// 8. Wait for a signal or a fatal component error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errChan:
		return exitRuntime, err
	}

	// 9. Graceful shutdown: stop accepting, then drain workers
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	broker.Stop()
	return exitOK, nil
}
