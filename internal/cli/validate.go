package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/trailhound/trailhound/internal/config"
)

// ValidateOptions contains options for the validate command
type ValidateOptions struct {
	*RootOptions
	ConfigPath string
}

// ValidationResult is the result of validating a config file
type ValidationResult struct {
	Valid  bool           `json:"valid"`
	Config *config.Config `json:"config,omitempty"`
}

// NewValidateCommand creates the validate command
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a device configuration file",
		Long: `Validate a device configuration file against the schema.

The file is parsed as YAML, checked against the embedded schema and
filled with defaults, exactly as the run command would do at boot.
On success the fully resolved configuration is printed, so this is
also the way to see what defaults a sparse file picks up.

Examples:
  # Validate a config file
  trailhound validate --config device.yaml

  # Show the resolved config as JSON
  trailhound validate --config device.yaml --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "Path to device config file (required)")
	cmd.MarkFlagRequired("config")

	return cmd
}

func runValidate(opts *ValidateOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	data, err := os.ReadFile(opts.ConfigPath)
	if err != nil {
		formatter.Error(ErrCodeConfig, fmt.Sprintf("cannot read %s", opts.ConfigPath), err.Error())
		return WrapExitError(ExitCommandError, "config not readable", err)
	}

	cfg, err := config.Parse(data)
	if err != nil {
		formatter.Error(ErrCodeConfig, fmt.Sprintf("%s is not a valid configuration", opts.ConfigPath), err.Error())
		return WrapExitError(ExitFailure, "invalid configuration", err)
	}

	if opts.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Config: &cfg})
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, "✓ Configuration valid")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  role:            %s\n", cfg.Role)
	if cfg.ID == "" {
		fmt.Fprintf(w, "  id:              (derived at boot)\n")
	} else {
		fmt.Fprintf(w, "  id:              %s\n", cfg.ID)
	}
	fmt.Fprintf(w, "  secret:          %q\n", cfg.Secret)
	fmt.Fprintf(w, "  rate_limit_s:    %d\n", cfg.RateLimitS)
	fmt.Fprintf(w, "  save_interval_s: %d\n", cfg.SaveIntervalS)
	fmt.Fprintf(w, "  peers_path:      %s\n", cfg.PeersPath)
	if cfg.JournalPath == "" {
		fmt.Fprintf(w, "  journal_path:    (disabled)\n")
	} else {
		fmt.Fprintf(w, "  journal_path:    %s\n", cfg.JournalPath)
	}
	fmt.Fprintf(w, "  radio:           %.1f MHz, %.0f kHz, SF%d, %d dBm\n",
		cfg.Radio.FreqMHz, cfg.Radio.BandwidthKHz, cfg.Radio.SpreadingFactor, cfg.Radio.TxPowerDBm)

	return nil
}
