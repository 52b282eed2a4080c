package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"school-library/jobs"
	"school-library/library"
	"school-library/notify"
	"school-library/server"
)

func (a *app) serveCmd() *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the housekeeping schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			level := slog.LevelInfo
			if a.cfg.IsDev() {
				level = slog.LevelDebug
			}
			a.log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

			var opts []library.Option
			if a.cfg.MailEnabled() {
				opts = append(opts, library.WithNotifier(notify.NewMailer(a.cfg.SendGridAPIKey, a.cfg.SendGridFrom,
					notify.WithHost(a.cfg.SendGridHost), notify.WithLogger(a.log))))
			} else {
				a.log.Warn("SENDGRID_API_KEY not set, notifications are stored only")
			}
			if err := a.open(opts...); err != nil {
				return err
			}

			sched, err := jobs.New(a.lm, a.cfg.ReminderSchedule, a.log, jobs.WithHoldRelease(a.cfg.HoldRelease))
			if err != nil {
				return fmt.Errorf("invalid housekeeping schedule: %w", err)
			}
			sched.Start()
			defer func() { <-sched.Stop().Done() }()

			ttl := time.Duration(a.cfg.TokenTTLHours) * time.Hour
			srv := server.New(a.lm, server.NewTokens(a.cfg.JWTSecret, ttl), a.log)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if port == "" {
				port = a.cfg.Port
			}
			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start(":" + port) }()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}
			a.log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "listen port (default $PORT or $APP_PORT)")
	return cmd
}

func (a *app) housekeepingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "housekeeping",
		Short: "Release lapsed pickup holds and send overdue reminders now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var opts []library.Option
			if a.cfg.MailEnabled() {
				opts = append(opts, library.WithNotifier(notify.NewMailer(a.cfg.SendGridAPIKey, a.cfg.SendGridFrom,
					notify.WithHost(a.cfg.SendGridHost), notify.WithLogger(a.log))))
			}
			if err := a.open(opts...); err != nil {
				return err
			}
			sched, err := jobs.New(a.lm, a.cfg.ReminderSchedule, a.log)
			if err != nil {
				return err
			}
			res := sched.RunOnce(cmd.Context())
			fmt.Printf("Released %d lapsed hold(s), sent %d overdue reminder(s)\n", res.Released, res.Reminded)
			return res.Err
		},
	}
}
