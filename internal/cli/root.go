// Package cli is the orders command line: it drives the client side of the
// order workflow against a running order service.
package cli

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dannyCSStudent/mojara/internal/poller"
	"github.com/dannyCSStudent/mojara/internal/realtime"
)

// RootOptions holds global flags for all commands. Defaults come from the
// environment.
type RootOptions struct {
	BaseURL      string
	Token        string
	VendorID     string
	Format       string // "json" | "text"
	LogLevel     string
	RedisAddr    string
	Brokers      string
	Topic        string
	PollInterval time.Duration
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Inspect and act on marketplace orders",
		Long: `Inspect and act on marketplace orders.

Reads go through a local cache when --redis is set; watch uses push
notifications when --brokers is set and falls back to polling otherwise.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if opts.BaseURL == "" {
				return fmt.Errorf("--base-url is required")
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.BaseURL, "base-url", getEnv("ORDERS_BASE_URL", "http://localhost:8080"), "order service base URL")
	flags.StringVar(&opts.Token, "token", getEnv("ORDERS_TOKEN", ""), "bearer token")
	flags.StringVar(&opts.VendorID, "vendor", getEnv("ORDERS_VENDOR_ID", ""), "act as this vendor")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVar(&opts.LogLevel, "log-level", getEnv("LOG_LEVEL", "warn"), "log level (debug|info|warn|error)")
	flags.StringVar(&opts.RedisAddr, "redis", getEnv("REDIS_ADDR", ""), "redis address for the order cache")
	flags.StringVar(&opts.Brokers, "brokers", getEnv("KAFKA_BROKERS", ""), "comma separated kafka brokers for push updates")
	flags.StringVar(&opts.Topic, "topic", getEnv("ORDER_CHANGES_TOPIC", realtime.DefaultTopic), "order change topic")
	flags.DurationVar(&opts.PollInterval, "poll-interval", poller.DefaultInterval, "poll interval while an order is pending")

	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewFeedCommand(opts))
	cmd.AddCommand(NewConfirmCommand(opts))
	cmd.AddCommand(NewCancelCommand(opts))
	cmd.AddCommand(NewRefundCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))

	return cmd
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
