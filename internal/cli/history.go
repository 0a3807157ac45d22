package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/trailhound/trailhound/internal/gps"
	"github.com/trailhound/trailhound/internal/journal"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
	Peer     string
	Limit    int
}

// sightingView is the CLI rendering of one journal row.
type sightingView struct {
	Seq    int64  `json:"seq"`
	PeerID string `json:"peer_id"`
	gps.Fix
	RSSI   int     `json:"rssi"`
	TOAms  float64 `json:"toa_ms"`
	SeenAt string  `json:"seen_at"`
}

func newSightingView(s journal.Sighting) sightingView {
	return sightingView{
		Seq:    s.Seq,
		PeerID: s.PeerID,
		Fix:    s.Fix,
		RSSI:   s.RSSI,
		TOAms:  millis(s.Airtime),
		SeenAt: s.SeenAt.UTC().Format(time.RFC3339),
	}
}

// peerSummaryView is the CLI rendering of one journaled peer.
type peerSummaryView struct {
	PeerID    string `json:"peer_id"`
	Sightings int64  `json:"sightings"`
	LastSeen  string `json:"last_seen"`
}

// HistoryResult holds the history command output: either one peer's
// sightings or the per-peer summary, depending on the flags.
type HistoryResult struct {
	Peer      string            `json:"peer,omitempty"`
	Sightings []sightingView    `json:"sightings,omitempty"`
	Peers     []peerSummaryView `json:"peers,omitempty"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Query the sighting journal",
		Long: `Query the SQLite journal a base writes when journaling is enabled.

Without --peer, lists every journaled rover with its sighting count and
last-seen time. With --peer, prints that rover's sightings newest first,
up to --limit rows.

Examples:
  trailhound history --db journal.db
  trailhound history --db journal.db --peer TX1A2B3C --limit 20
  trailhound history --db journal.db --peer TX1A2B3C --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the sighting journal (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Peer, "peer", "", "rover ID to show sightings for")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum sightings to show")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	// Opening a SQLite path creates it; a query tool must not conjure an
	// empty journal out of a typo.
	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, "journal not found", err)
	}

	j, err := journal.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer j.Close()

	ctx := context.Background()
	if opts.Peer == "" {
		return outputPeerSummaries(ctx, opts, cmd, j)
	}
	return outputSightings(ctx, opts, cmd, j)
}

func outputPeerSummaries(ctx context.Context, opts *HistoryOptions, cmd *cobra.Command, j *journal.Journal) error {
	summaries, err := j.Peers(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to query journal", err)
	}

	if opts.Format == "json" {
		formatter := &OutputFormatter{
			Format:    opts.Format,
			Writer:    cmd.OutOrStdout(),
			ErrWriter: cmd.ErrOrStderr(),
			Verbose:   opts.Verbose,
		}
		views := make([]peerSummaryView, 0, len(summaries))
		for _, s := range summaries {
			views = append(views, peerSummaryView{
				PeerID:    s.PeerID,
				Sightings: s.Sightings,
				LastSeen:  s.LastSeen.UTC().Format(time.RFC3339),
			})
		}
		return formatter.Success(HistoryResult{Peers: views})
	}

	w := cmd.OutOrStdout()
	if len(summaries) == 0 {
		fmt.Fprintln(w, "Journal is empty")
		return nil
	}
	fmt.Fprintf(w, "%d rover(s) journaled:\n", len(summaries))
	for _, s := range summaries {
		fmt.Fprintf(w, "  %-10s %5d sighting(s)  last %s\n",
			s.PeerID, s.Sightings, s.LastSeen.UTC().Format(time.RFC3339))
	}
	return nil
}

func outputSightings(ctx context.Context, opts *HistoryOptions, cmd *cobra.Command, j *journal.Journal) error {
	sightings, err := j.History(ctx, opts.Peer, opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to query journal", err)
	}

	if opts.Format == "json" {
		formatter := &OutputFormatter{
			Format:    opts.Format,
			Writer:    cmd.OutOrStdout(),
			ErrWriter: cmd.ErrOrStderr(),
			Verbose:   opts.Verbose,
		}
		views := make([]sightingView, 0, len(sightings))
		for _, s := range sightings {
			views = append(views, newSightingView(s))
		}
		return formatter.Success(HistoryResult{Peer: opts.Peer, Sightings: views})
	}

	w := cmd.OutOrStdout()
	if len(sightings) == 0 {
		fmt.Fprintf(w, "No sightings for %s\n", opts.Peer)
		return nil
	}
	fmt.Fprintf(w, "History for %s (%d sighting(s), newest first):\n", opts.Peer, len(sightings))
	for _, s := range sightings {
		fmt.Fprintf(w, "  [%4d] %s  %-34s rssi %4d dBm  toa %6.1f ms\n",
			s.Seq, s.SeenAt.UTC().Format(time.RFC3339), fmtPosition(s.Fix), s.RSSI, millis(s.Airtime))
	}
	return nil
}
