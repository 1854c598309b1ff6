// Package leadengine parses engine command flags and launches the engine runtime.
package leadengine

import (
	"context"
	"flag"
	"time"

	entrypoint "github.com/habitar/leadengine/internal/platform/cmd"
	engineserver "github.com/habitar/leadengine/internal/services/leads/app"
)

// Config holds engine command configuration.
type Config struct {
	HTTPAddr               string        `env:"LEADENGINE_HTTP_ADDR" envDefault:":8080"`
	DBPath                 string        `env:"LEADENGINE_DB_PATH" envDefault:"data/leadengine.db"`
	NotificationsDBPath    string        `env:"LEADENGINE_NOTIFICATIONS_DB_PATH" envDefault:"data/notifications.db"`
	WindowDuration         time.Duration `env:"LEADENGINE_WINDOW_DURATION" envDefault:"15m"`
	SweepInterval          time.Duration `env:"LEADENGINE_SWEEP_INTERVAL" envDefault:"30s"`
	SweepBatchSize         int           `env:"LEADENGINE_SWEEP_BATCH_SIZE" envDefault:"100"`
	DefaultPoolID          string        `env:"LEADENGINE_DEFAULT_POOL_ID" envDefault:"default"`
	EnforceCapacityOnClaim bool          `env:"LEADENGINE_ENFORCE_CAPACITY_ON_CLAIM"`
	AMQPURL                string        `env:"LEADENGINE_AMQP_URL"`
	AMQPExchange           string        `env:"LEADENGINE_AMQP_EXCHANGE" envDefault:"leadengine.events"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "The engine HTTP server listen address")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The engine SQLite database path")
	fs.StringVar(&cfg.NotificationsDBPath, "notifications-db-path", cfg.NotificationsDBPath, "The notifications SQLite database path")
	fs.DurationVar(&cfg.WindowDuration, "window-duration", cfg.WindowDuration, "Exclusive claim window duration")
	fs.DurationVar(&cfg.SweepInterval, "sweep-interval", cfg.SweepInterval, "Expired claim window sweep interval")
	fs.IntVar(&cfg.SweepBatchSize, "sweep-batch-size", cfg.SweepBatchSize, "Maximum expired leads resolved per sweep")
	fs.StringVar(&cfg.DefaultPoolID, "default-pool-id", cfg.DefaultPoolID, "Round-robin pool used when no routing rule matches")
	fs.BoolVar(&cfg.EnforceCapacityOnClaim, "enforce-capacity-on-claim", cfg.EnforceCapacityOnClaim, "Reject claims from agents at capacity")
	fs.StringVar(&cfg.AMQPURL, "amqp-url", cfg.AMQPURL, "AMQP connection string; empty disables the event bus")
	fs.StringVar(&cfg.AMQPExchange, "amqp-exchange", cfg.AMQPExchange, "AMQP topic exchange for engine events")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the engine runtime.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceEngine, func(context.Context) error {
		return engineserver.Run(ctx, engineserver.RuntimeConfig{
			HTTPAddr:               cfg.HTTPAddr,
			DBPath:                 cfg.DBPath,
			NotificationsDBPath:    cfg.NotificationsDBPath,
			WindowDuration:         cfg.WindowDuration,
			SweepInterval:          cfg.SweepInterval,
			SweepBatchSize:         cfg.SweepBatchSize,
			DefaultPoolID:          cfg.DefaultPoolID,
			EnforceCapacityOnClaim: cfg.EnforceCapacityOnClaim,
			AMQPURL:                cfg.AMQPURL,
			AMQPExchange:           cfg.AMQPExchange,
		})
	})
}
