package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tomasbasham/cli-runtime/iooption"
	"github.com/tomasbasham/cli-runtime/templates"

	"github.com/percyio/percy-core/internal/buildclient"
	"github.com/percyio/percy-core/internal/config"
	"github.com/percyio/percy-core/internal/core"
	"github.com/percyio/percy-core/internal/server"
)

// StartOptions defines the options for the `percy start` command.
type StartOptions struct {
	iooption.IOStreams

	ConfigFile  string
	Port        int
	APIBaseURL  string
	DebugBucket string
}

var (
	startLong = templates.LongDesc(`
		Start the Percy daemon: validate configuration, create a build,
		launch the browser, and begin accepting snapshot requests on the
		control server.`)

	startExample = templates.Examples(`
		# Start with a config file
		percy start --config ./percy.yml

		# Override the control server port
		percy start --port 5555`)
)

// NewStartOptions provides an initialised StartOptions instance.
func NewStartOptions(streams iooption.IOStreams) *StartOptions {
	return &StartOptions{IOStreams: streams}
}

// NewStartCommand creates the `start` command.
func NewStartCommand(o *StartOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the Percy discovery daemon",
		Long:    startLong,
		Example: startExample,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.Run()
		},
	}

	cmd.Flags().StringVarP(&o.ConfigFile, "config", "c", "", "Path to a percy.yml config file")
	cmd.Flags().IntVarP(&o.Port, "port", "p", 0, "Control server port (overrides config)")
	cmd.Flags().StringVar(&o.APIBaseURL, "api-base-url", "https://percy.io/api/v1", "Base URL of the Percy build API")
	cmd.Flags().StringVar(&o.DebugBucket, "debug-bucket", "", "GCS bucket to additionally persist debug bundles to")

	return cmd
}

func (o *StartOptions) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(o.ConfigFile)
	if err != nil {
		return err
	}
	if o.Port != 0 {
		cfg.Port = o.Port
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: o.ErrOut}).With().Timestamp().Logger().Level(level)

	var client buildclient.Client = buildclient.NewHTTPClient(o.APIBaseURL, cfg.Token, cfg.Timeouts.API, log)
	if bucket := firstNonEmpty(o.DebugBucket, os.Getenv("PERCY_DEBUG_BUCKET")); bucket != "" {
		client, err = buildclient.NewGCSDebugClient(ctx, client, bucket, log)
		if err != nil {
			return fmt.Errorf("failed to initialise GCS debug client: %w", err)
		}
	}

	c := core.New(client, log)
	if _, err := c.Start(ctx, cfg); err != nil {
		return fmt.Errorf("failed to start percy core: %w", err)
	}

	if cfg.Server {
		srv := server.New(c, log)
		c.SetServer(srv)

		addr := fmt.Sprintf(":%d", cfg.Port)
		fmt.Fprintf(o.Out, "percy control server listening on %s\n", addr)

		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe(addr) }()

		select {
		case <-ctx.Done():
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("control server: %w", err)
			}
		}
	} else {
		<-ctx.Done()
	}

	return c.Stop(context.Background())
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
