// Package main provides the dbqueue server executable with HTTP API and
// operational subcommands.
//
// Usage:
//
//	dbqueue-server [serve|setup|stats|purge|schema]
//
// Configuration is read from the environment (see internal/config).
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/coregx/dbqueue"
	"github.com/coregx/dbqueue/adapters/relica"
	"github.com/coregx/dbqueue/cmd/dbqueue-server/internal/api"
	"github.com/coregx/dbqueue/cmd/dbqueue-server/internal/config"
	"github.com/coregx/dbqueue/schema"
)

// slogLogger implements dbqueue.Logger on top of log/slog.
type slogLogger struct {
	l *slog.Logger
}

func (s *slogLogger) Debugf(format string, args ...interface{}) {
	s.l.Debug(fmt.Sprintf(format, args...))
}
func (s *slogLogger) Infof(format string, args ...interface{}) {
	s.l.Info(fmt.Sprintf(format, args...))
}
func (s *slogLogger) Warnf(format string, args ...interface{}) {
	s.l.Warn(fmt.Sprintf(format, args...))
}
func (s *slogLogger) Errorf(format string, args ...interface{}) {
	s.l.Error(fmt.Sprintf(format, args...))
}
func (s *slogLogger) Info(message string) {
	s.l.Info(message)
}

func main() {
	logger := &slogLogger{l: slog.New(slog.NewTextHandler(os.Stderr, nil))}

	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	if err := run(command, logger); err != nil {
		logger.Errorf("%s: %v", command, err)
		os.Exit(1)
	}
}

func run(command string, logger *slogLogger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	queueCfg, err := cfg.Transport()
	if err != nil {
		return err
	}

	// schema does not need a database connection
	if command == "schema" {
		dialect, err := schema.DialectFor(cfg.Database.Driver)
		if err != nil {
			return err
		}
		for _, stmt := range dialect.CreateStatements(schema.Messages(queueCfg.TableName)) {
			fmt.Println(stmt + ";")
		}
		return nil
	}

	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			logger.Warnf("Failed to close database: %v", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	conn, err := relica.NewConnection(db, cfg.Database.Driver, queueCfg, relica.WithLogger(logger))
	if err != nil {
		return err
	}

	switch command {
	case "serve":
		return serve(ctx, cfg, queueCfg, conn, logger)
	case "setup":
		if err := conn.Setup(ctx); err != nil {
			return err
		}
		logger.Infof("Table %s is ready", queueCfg.TableName)
		return nil
	case "stats":
		n, err := conn.MessageCount(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("table=%s queue=%s claimable=%d\n", queueCfg.TableName, queueCfg.QueueName, n)
		return nil
	case "purge":
		n, err := conn.Purge(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("purged %d message(s) from queue %s\n", n, queueCfg.QueueName)
		return nil
	default:
		return fmt.Errorf("unknown command %q (want serve, setup, stats, purge or schema)", command)
	}
}

func serve(ctx context.Context, cfg *config.Config, queueCfg dbqueue.Configuration, conn *relica.Connection, logger *slogLogger) error {
	transport, err := dbqueue.NewTransport(
		dbqueue.WithStore(conn),
		dbqueue.WithSerializer(dbqueue.RawJSONSerializer{}),
		dbqueue.WithLogger(logger),
		dbqueue.WithNotifications(dbqueue.NewLoggingNotificationService(logger)),
	)
	if err != nil {
		return err
	}

	handler := api.NewHandler(transport, conn, queueCfg, logger)
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP server listening on %s (driver=%s, table=%s, queue=%s)",
			server.Addr, cfg.Database.Driver, queueCfg.TableName, queueCfg.QueueName)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server stopped gracefully")
	return nil
}
