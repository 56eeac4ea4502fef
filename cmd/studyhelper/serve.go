package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pavelanni/studyhelper/internal/handler"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the local study session API",
		RunE:  runServe,
	}
	addCommonFlags(cmd)
	addChatFlags(cmd)
	f := cmd.Flags()
	f.StringP("addr", "a", "127.0.0.1:8080", "HTTP listen address")
	f.String("download-dir", "downloads", "Directory to save exported PDFs in")
	f.Bool("resume", false, "Reopen the last analyzed document on startup")
	f.String("access-password-hash", "", "bcrypt hash of the access password (see hash-password); empty leaves the API open")
	f.Bool("secure-cookies", false, "Set Secure flag on access cookies")
	f.Float64("rate-limit-rps", 10, "Requests per second allowed per client")
	f.Int("rate-limit-burst", 20, "Request burst allowed per client")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sess := e.newSession(ctx)
	if e.v.GetBool("resume") && e.db != nil {
		id, err := e.db.LastDocumentID(ctx)
		if err != nil {
			return fmt.Errorf("read last document: %w", err)
		}
		if id != "" {
			if _, err := e.openDocument(ctx, sess, id); err != nil {
				slog.Warn("could not resume last document", "document_id", id, "error", err)
			}
		}
	}

	h, err := handler.New(sess, e.db, handler.Config{
		AccessPasswordHash: e.v.GetString("access-password-hash"),
		SecureCookies:      e.v.GetBool("secure-cookies"),
		RateLimitRPS:       e.v.GetFloat64("rate-limit-rps"),
		RateLimitBurst:     e.v.GetInt("rate-limit-burst"),
	})
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	addr := e.v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", addr,
			"api_url", e.v.GetString("api-url"),
			"chat_backend", e.v.GetString("chat-backend"),
			"download_dir", e.downloadDir(),
			"lang", e.v.GetString("lang"),
			"protected", e.v.GetString("access-password-hash") != "",
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
