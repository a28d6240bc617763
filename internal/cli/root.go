// Package cli implements docsiftctl, the operator command line for docsift.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/kiranshivaraju/docsift/internal/config"
	"github.com/kiranshivaraju/docsift/internal/logging"
	"github.com/kiranshivaraju/docsift/internal/store"
	"github.com/spf13/cobra"
)

// KeyStoreOpener returns the API key store used by the keys commands and a func releasing it.
type KeyStoreOpener func(ctx context.Context, databaseURL string) (store.APIKeyStore, func(), error)

type app struct {
	server      string
	apiKey      string
	databaseURL string
	timeout     time.Duration
	debug       bool
	logLevel    string
	logFormat   string

	logger   *slog.Logger
	client   *Client
	openKeys KeyStoreOpener
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// NewRootCmd creates the root cobra command for docsiftctl.
func NewRootCmd() *cobra.Command {
	return newRootCmd(openPostgresKeys)
}

func newRootCmd(openKeys KeyStoreOpener) *cobra.Command {
	a := &app{openKeys: openKeys}

	root := &cobra.Command{
		Use:   "docsiftctl",
		Short: "docsiftctl manages docsift analysis jobs",
		Long:  "docsiftctl submits, inspects and cancels docsift analysis jobs and manages API keys.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if a.debug {
				a.logLevel = "debug"
			}
			a.logger = logging.NewLoggerWithWriter(logging.ParseLevel(a.logLevel), a.logFormat, cmd.ErrOrStderr())
			a.client = NewClient(a.server, a.apiKey, a.timeout, a.logger)
		},
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.server, "server", envOr("DOCSIFT_SERVER", "http://localhost:8080"), "docsift server URL (or DOCSIFT_SERVER env)")
	flags.StringVar(&a.apiKey, "api-key", os.Getenv("DOCSIFT_API_KEY"), "API key (or DOCSIFT_API_KEY env)")
	flags.StringVar(&a.databaseURL, "database-url", os.Getenv("DATABASE_URL"), "Postgres URL for key management (or DATABASE_URL env)")
	flags.DurationVar(&a.timeout, "timeout", 30*time.Second, "Request timeout")
	flags.BoolVar(&a.debug, "debug", false, "Enable debug logging")
	flags.StringVar(&a.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	flags.StringVar(&a.logFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		a.newJobsCmd(),
		a.newProvidersCmd(),
		a.newEventsCmd(),
		a.newKeysCmd(),
	)

	return root
}

// openPostgresKeys connects to the docsift database with a small pool.
func openPostgresKeys(ctx context.Context, databaseURL string) (store.APIKeyStore, func(), error) {
	if databaseURL == "" {
		return nil, nil, fmt.Errorf("--database-url or DATABASE_URL is required")
	}
	pool, err := store.Connect(ctx, config.DatabaseConfig{
		URL:             databaseURL,
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	return store.NewPostgresStore(pool), pool.Close, nil
}
