package cli

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/spf13/cobra"

	"github.com/trailhound/trailhound/internal/gps"
	"github.com/trailhound/trailhound/internal/track"
)

// PeersOptions holds flags for the peers command.
type PeersOptions struct {
	*RootOptions
	File string
}

// peerView is the CLI rendering of one tracked rover: the registry entry
// flattened to the same keys the wire payload uses, plus link metadata.
type peerView struct {
	ID string `json:"id"`
	gps.Fix
	RSSI     int     `json:"rssi"`
	TOAms    float64 `json:"toa_ms"`
	LastSeen int64   `json:"last_track"`
}

func newPeerView(p track.Peer) peerView {
	return peerView{
		ID:       p.ID,
		Fix:      p.Fix,
		RSSI:     p.RSSI,
		TOAms:    millis(p.Airtime),
		LastSeen: p.LastSeen,
	}
}

// RegistryResult is the JSON payload of the peers command.
type RegistryResult struct {
	File  string     `json:"file"`
	Count int        `json:"count"`
	Peers []peerView `json:"peers"`
}

// NewPeersCommand creates the peers command.
func NewPeersCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PeersOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "peers",
		Short: "Inspect a persisted rover registry",
		Long: `Read the JSON registry a base persists and print each rover's last
reported state.

Unlike the device itself, which tolerates a damaged registry and starts
fresh, this command fails loudly on malformed files so damage is visible.

Examples:
  trailhound peers --file rovers.json
  trailhound peers --file rovers.json --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPeers(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.File, "file", "", "path to the peers registry (required)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runPeers(opts *PeersOptions, cmd *cobra.Command) error {
	peers, err := track.ReadFile(opts.File)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read registry", err)
	}

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
		return formatter.Success(RegistryResult{
			File:  opts.File,
			Count: len(peers),
			Peers: views,
		})
	}

	w := cmd.OutOrStdout()
	if len(peers) == 0 {
		fmt.Fprintf(w, "No rovers in %s\n", opts.File)
		return nil
	}
	fmt.Fprintf(w, "%d rover(s) in %s:\n", len(peers), opts.File)
	writePeerRows(w, peers)
	return nil
}

// writePeerRows prints one text row per tracked rover.
func writePeerRows(w io.Writer, peers []track.Peer) {
	for _, p := range peers {
		fmt.Fprintf(w, "  %-10s %-34s rssi %4d dBm  toa %6.1f ms\n",
			p.ID, fmtPosition(p.Fix), p.RSSI, millis(p.Airtime))
	}
}

// fmtPosition renders a fix for text output, degrading with missing
// fields.
func fmtPosition(f gps.Fix) string {
	if !f.HasPosition() {
		return "no position"
	}
	s := fmt.Sprintf("%.4f, %.4f", *f.Lat, *f.Lon)
	if f.Alt != nil {
		s += fmt.Sprintf(" @ %.0fm", *f.Alt)
	}
	if f.Sat != nil {
		s += fmt.Sprintf(" (%d sats)", *f.Sat)
	}
	return s
}

// millis renders a duration as milliseconds with one decimal, the unit
// the registry file and the uplink use for time on air.
func millis(d time.Duration) float64 {
	ms := float64(d) / float64(time.Millisecond)
	return math.Round(ms*10) / 10
}
