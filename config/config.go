// Package config loads runtime settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
)

type App struct {
	DBPath           string
	Port             string
	JWTSecret        string
	TokenTTLHours    int
	SendGridAPIKey   string
	SendGridFrom     string
	SendGridHost     string
	ReminderSchedule string
	HoldRelease      string
	Env              string
}

const devSecret = "local_dev_secret"

// Load reads the environment. JWT_SECRET is mandatory unless APP_ENV is dev.
func Load() (App, error) {
	cfg := App{
		DBPath:           getenv("LIBRARY_DB", "library.db"),
		Port:             getenv("PORT", getenv("APP_PORT", "8080")),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		SendGridAPIKey:   os.Getenv("SENDGRID_API_KEY"),
		SendGridFrom:     getenv("SENDGRID_FROM", "library@school.edu.my"),
		SendGridHost:     getenv("SENDGRID_HOST", "https://api.sendgrid.com"),
		ReminderSchedule: getenv("REMINDER_SCHEDULE", "0 7 * * *"),
		HoldRelease:      getenv("HOLD_RELEASE_SCHEDULE", "@hourly"),
		Env:              strings.ToLower(getenv("APP_ENV", "dev")),
	}

	ttl, err := strconv.Atoi(getenv("TOKEN_TTL_HOURS", "12"))
	if err != nil || ttl <= 0 {
		return App{}, fmt.Errorf("TOKEN_TTL_HOURS must be a positive number of hours")
	}
	cfg.TokenTTLHours = ttl

	if cfg.JWTSecret == "" {
		if !cfg.IsDev() {
			return App{}, fmt.Errorf("required env missing: JWT_SECRET")
		}
		cfg.JWTSecret = devSecret
	}
	if _, err := cron.ParseStandard(cfg.ReminderSchedule); err != nil {
		return App{}, fmt.Errorf("REMINDER_SCHEDULE %q: %w", cfg.ReminderSchedule, err)
	}
	if _, err := cron.ParseStandard(cfg.HoldRelease); err != nil {
		return App{}, fmt.Errorf("HOLD_RELEASE_SCHEDULE %q: %w", cfg.HoldRelease, err)
	}
	return cfg, nil
}

func (a App) IsDev() bool { return a.Env == "dev" }

// MailEnabled reports whether e-mail delivery is configured.
func (a App) MailEnabled() bool { return a.SendGridAPIKey != "" }

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
