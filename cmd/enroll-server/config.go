package main

import (
	"time"

	"enrollassist-backend/internal/components/configutil"
	"enrollassist-backend/internal/components/recordstore"
	"enrollassist-backend/internal/components/telemetry"
	"enrollassist-backend/internal/notify"
	"enrollassist-backend/internal/scrapers/portal"
	"enrollassist-backend/internal/tasks"
)

type CacheConfig struct {
	Size       int `json:"size"`
	TtlSeconds int `json:"ttl_seconds"`
}

type TasksConfig struct {
	Concurrency       int `json:"concurrency"`
	IntervalMs        int `json:"interval_ms"`
	CatalogIntervalMs int `json:"catalog_interval_ms"`
	CatalogFailures   int `json:"catalog_failures"`
}

func (c TasksConfig) options() []tasks.Option {
	return []tasks.Option{
		tasks.WithConcurrency(c.Concurrency),
		tasks.WithInterval(time.Duration(c.IntervalMs) * time.Millisecond),
		tasks.WithCatalogRetry(
			time.Duration(c.CatalogIntervalMs)*time.Millisecond,
			c.CatalogFailures,
		),
	}
}

type Config struct {
	Port    int  `json:"port"`
	Verbose bool `json:"verbose"`

	Sites  []portal.Site  `json:"sites"`
	Portal portal.Options `json:"portal"`
	Cache  CacheConfig    `json:"cache"`
	Tasks  TasksConfig    `json:"tasks"`

	Database recordstore.Config `json:"database"`
	// RequireActivation gates task creation behind activation codes.
	RequireActivation bool `json:"require_activation"`
	AdminToken        string `json:"admin_token"`

	Smtp      notify.SmtpConfig `json:"smtp"`
	Telemetry telemetry.Config  `json:"telemetry"`

	DispatchIntervalMs int    `json:"dispatch_interval_ms"`
	StatsCron          string `json:"stats_cron"`
}

// readConfig reads config.json5 and overlays secrets from the environment,
// which may itself be populated from a .env file.
func readConfig() (Config, error) {
	cfg, err := configutil.ReadConfig[Config]("config.json5")
	if err != nil {
		return Config{}, err
	}
	err = configutil.LoadDotenv(".env")
	if err != nil {
		return Config{}, err
	}

	cfg.AdminToken = configutil.EnvOr("ENROLL_ADMIN_TOKEN", cfg.AdminToken)
	cfg.Smtp.Password = configutil.EnvOr("ENROLL_SMTP_PASSWORD", cfg.Smtp.Password)
	cfg.Database.AuthToken = configutil.EnvOr("ENROLL_DB_AUTH_TOKEN", cfg.Database.AuthToken)

	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.Database.File == "" && cfg.Database.Url == "" {
		cfg.Database.File = "<dev_state>/records.db"
	}
	return cfg, nil
}
