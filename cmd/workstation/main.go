package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/shehryarbajwa/cloud-workstations/internal/catalog"
	"github.com/shehryarbajwa/cloud-workstations/internal/client"
	"github.com/shehryarbajwa/cloud-workstations/internal/logging"
	"github.com/shehryarbajwa/cloud-workstations/internal/ui"
)

// Version is set at build time.
var Version = "dev"

var errLaunchFailed = errors.New("launch failed")

type options struct {
	server   string
	timeout  time.Duration
	logLevel string

	logger *log.Logger
	ui     *ui.UI
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errLaunchFailed) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cmd := newRootCommand(stdout, stderr)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "workstation",
		Short:         "Launch remote cloud workstations",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	flags := root.PersistentFlags()
	flags.StringVar(&opts.server, "server", envOr("WORKSTATION_SERVER", "http://localhost:8080"), "provisioning service URL")
	flags.DurationVar(&opts.timeout, "timeout", 5*time.Minute, "how long to wait for a workstation")
	flags.StringVar(&opts.logLevel, "log-level", envOr("LOG_LEVEL", "warn"), "log level (debug, info, warn, error)")

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		logger, err := logging.New(stderr, logging.Options{Level: opts.logLevel, Prefix: "workstation"})
		if err != nil {
			return err
		}
		opts.logger = logger
		opts.ui = ui.NewWithWriters(stdout, stderr)
		logger.With("command", cmd.Name()).Debug("command invocation", "server", opts.server)
		return nil
	}

	root.AddCommand(
		newCatalogCommand(opts),
		newLaunchCommand(opts),
	)
	return root
}

func newCatalogCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "Show the available workstation profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries := fetchCatalog(cmd.Context(), opts).Entries()
			opts.ui.Catalog(entries)
			return nil
		},
	}
}

// fetchCatalog asks the server for its catalog and falls back to the built-in one
func fetchCatalog(ctx context.Context, opts *options) catalog.Catalog {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	entries, err := client.New(opts.server, 0).Catalog(ctx)
	if err != nil {
		opts.logger.Warn("using built-in catalog", "err", err)
		return catalog.Default()
	}

	c := make(catalog.Catalog, len(entries))
	for _, e := range entries {
		c[e.OS] = e.Profile
	}
	return c
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
