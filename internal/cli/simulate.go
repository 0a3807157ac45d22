package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/trailhound/trailhound/internal/config"
	"github.com/trailhound/trailhound/internal/device"
	"github.com/trailhound/trailhound/internal/gps"
	"github.com/trailhound/trailhound/internal/link"
)

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	*RootOptions
	Rovers    int
	Duration  time.Duration
	RateLimit int
	Seed      int64
}

// SimulateResult is the JSON payload of a finished bench run.
type SimulateResult struct {
	Rovers   int        `json:"rovers"`
	Duration string     `json:"duration"`
	Received uint64     `json:"frames_received"`
	Tracked  []peerView `json:"tracked"`
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Bench a base and simulated rovers on one medium",
		Long: `Run one base and N rovers in-process over a shared simulated air for a
fixed duration, then print the base's final registry.

Each rover walks a deterministic GPS path when --seed is set, so two
runs with the same seed and duration report the same positions. The
registry file from the run is scratch and discarded.

Examples:
  trailhound simulate --rovers 3 --duration 30s
  trailhound simulate --rovers 10 --duration 1m --rate-limit 2 --seed 42`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Rovers, "rovers", 3, "number of simulated rovers")
	cmd.Flags().DurationVar(&opts.Duration, "duration", 30*time.Second, "how long to run the bench")
	cmd.Flags().IntVar(&opts.RateLimit, "rate-limit", 1, "transmit interval per rover, seconds")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 0, "GPS walk seed (0 = time-based)")

	return cmd
}

func runSimulate(opts *SimulateOptions, cmd *cobra.Command) error {
	if opts.Rovers < 1 {
		return NewExitError(ExitCommandError, "at least one rover required")
	}
	if opts.Duration <= 0 {
		return NewExitError(ExitCommandError, "duration must be positive")
	}
	if opts.RateLimit < 1 {
		return NewExitError(ExitCommandError, "rate limit must be at least 1 second")
	}

	setupLogging(opts.Verbose)

	// The base persists its registry somewhere; for a bench that
	// somewhere is scratch.
	workDir, err := os.MkdirTemp("", "trailhound-sim-")
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create scratch dir", err)
	}
	defer os.RemoveAll(workDir)

	air := link.NewAir()

	baseCfg := config.Default()
	baseCfg.ID = "RXSIM000"
	baseCfg.RateLimitS = opts.RateLimit
	baseCfg.PeersPath = filepath.Join(workDir, "rovers.json")

	baseRadio := air.Join()
	base, err := device.New(baseCfg, device.Deps{
		Radio:    baseRadio,
		Notifier: device.NopNotifier{},
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to assemble base", err)
	}
	baseRadio.Attach(base.HandleReceive)

	devices := []*device.Device{base}
	for i := 1; i <= opts.Rovers; i++ {
		cfg := config.Default()
		cfg.Role = config.RoleRover
		cfg.ID = fmt.Sprintf("TXSIM%03d", i)
		cfg.RateLimitS = opts.RateLimit

		var simOpts []gps.SimOption
		if opts.Seed != 0 {
			simOpts = append(simOpts, gps.WithSeed(opts.Seed+int64(i)))
		}

		rover, err := device.New(cfg, device.Deps{
			Radio: air.Join(),
			GPS:   gps.NewSim(simOpts...),
		})
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to assemble rover", err)
		}
		devices = append(devices, rover)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithTimeout(parentCtx, opts.Duration)
	defer cancel()

	// Ctrl-C ends the bench early but still prints the registry.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	// Progress goes to stdout only in text mode; JSON output must stay
	// a single document.
	if opts.Format != "json" {
		fmt.Fprintf(cmd.OutOrStdout(), "Simulating %d rover(s) for %s...\n", opts.Rovers, opts.Duration)
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(devices))
	for _, d := range devices {
		wg.Add(1)
		go func(d *device.Device) {
			defer wg.Done()
			errs <- d.Run(ctx)
		}(d)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			return WrapExitError(ExitFailure, "device error during bench", err)
		}
	}

	return outputSimulateResult(opts, cmd, base)
}

func outputSimulateResult(opts *SimulateOptions, cmd *cobra.Command, base *device.Device) error {
	peers := base.Tracked()
	stats := base.LinkStats()

	if opts.Format == "json" {
		formatter := &OutputFormatter{
			Format:    opts.Format,
			Writer:    cmd.OutOrStdout(),
			ErrWriter: cmd.ErrOrStderr(),
			Verbose:   opts.Verbose,
		}
		views := make([]peerView, 0, len(peers))
		for _, p := range peers {
			views = append(views, newPeerView(p))
		}
		return formatter.Success(SimulateResult{
			Rovers:   opts.Rovers,
			Duration: opts.Duration.String(),
			Received: stats.Received,
			Tracked:  views,
		})
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "\nReceived %d report(s); tracking %d rover(s):\n", stats.Received, len(peers))
	if len(peers) == 0 {
		fmt.Fprintln(w, "  (none; try a longer duration)")
		return nil
	}
	writePeerRows(w, peers)
	return nil
}
