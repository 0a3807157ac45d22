package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/trailhound/trailhound/internal/config"
	"github.com/trailhound/trailhound/internal/device"
	"github.com/trailhound/trailhound/internal/gps"
	"github.com/trailhound/trailhound/internal/journal"
	"github.com/trailhound/trailhound/internal/link"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigPath string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the configured device role",
		Long: `Run a device with the role, identity and link parameters from a YAML
configuration file.

Hardware boundaries are simulated on a host: the radio joins an
in-process medium and a rover's GPS is a deterministic walker. Real
drivers attach behind the same interfaces on device builds. A base
restores its tracked-rover registry at start and persists changes;
SIGINT or SIGTERM stops the device cleanly, saving first.

When the config carries no explicit id, one is derived from the role
prefix and an identity seed cached next to the config file.

Examples:
  trailhound run --config base.yaml
  trailhound run --config rover.yaml --verbose`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDevice(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to device configuration (required)")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func runDevice(opts *RunOptions, cmd *cobra.Command) error {
	setupLogging(opts.Verbose)

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	// No explicit id: derive one and keep the seed beside the config so
	// the identity survives restarts.
	if cfg.ID == "" {
		seedPath := filepath.Join(filepath.Dir(opts.ConfigPath), "device.id")
		cfg.ID, err = config.DeviceID(cfg.Role, seedPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to resolve device id", err)
		}
	}

	radio := link.NewAir().Join()
	deps := device.Deps{Radio: radio}

	if cfg.Role == config.RoleRover {
		deps.GPS = gps.NewSim()
	}
	if cfg.Role == config.RoleBase && cfg.JournalPath != "" {
		deps.Journal, err = journal.Open(cfg.JournalPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
	}

	dev, err := device.New(cfg, deps)
	if err != nil {
		// The device owns the journal only once assembled.
		if deps.Journal != nil {
			_ = deps.Journal.Close()
		}
		return WrapExitError(ExitCommandError, "failed to assemble device", err)
	}
	radio.Attach(dev.HandleReceive)

	// Setup signal handling for graceful shutdown.
	// Use command's context if available (for testing), otherwise create one.
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			dev.Shutdown()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Device %s up (%s role). Press Ctrl-C to stop.\n", dev.ID(), dev.Role())

	if err := dev.Run(ctx); err != nil {
		return WrapExitError(ExitFailure, "device error", err)
	}
	return nil
}
