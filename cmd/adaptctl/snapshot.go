package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fractal-lba/adaptive/internal/engine"
	"github.com/fractal-lba/adaptive/internal/snapshot"
)

func snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect persisted engine snapshots",
	}
	cmd.AddCommand(snapshotShowCmd())
	return cmd
}

func snapshotShowCmd() *cobra.Command {
	var (
		name    string
		rawJSON bool
		top     int
	)
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print a summary of a stored snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if name != "" {
				cfg.Store.Name = name
			}

			store, err := snapshot.Open(cmd.Context(), cfg.Store)
			if err != nil {
				return fmt.Errorf("failed to open snapshot store: %w", err)
			}
			if store == nil {
				return fmt.Errorf("no snapshot backend configured")
			}
			defer store.Close()

			snap, err := store.Load(cmd.Context(), cfg.Store.Name)
			if err != nil {
				return err
			}
			if rawJSON {
				return printJSON(cmd, snap)
			}
			return printSummary(cmd, snap, top)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Snapshot name (defaults to the configured name)")
	cmd.Flags().BoolVar(&rawJSON, "json", false, "Print the full snapshot as JSON")
	cmd.Flags().IntVar(&top, "top", 10, "Number of highest-valued state/action pairs to list")
	return cmd
}

type rankedValue struct {
	state  string
	action string
	value  float64
}

func printSummary(cmd *cobra.Command, snap *engine.Snapshot, top int) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "version\t%d\n", snap.Version)
	fmt.Fprintf(w, "taken at\t%s\n", snap.TakenAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(w, "policy\t%s\n", snap.Policy)
	fmt.Fprintf(w, "exploration rate\t%.4f\n", snap.ExplorationRate)
	fmt.Fprintf(w, "states\t%d\n", len(snap.QTable))
	fmt.Fprintf(w, "replay memory\t%d\n", len(snap.Replay))
	fmt.Fprintf(w, "feedback events\t%d\n", snap.Counters.Feedback)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "STRATEGY\tOPTION\tWEIGHT\tREWARD")
	for _, s := range snap.Strategies {
		for i, opt := range s.Options {
			fmt.Fprintf(w, "%s\t%s\t%.4f\t%.4f\n", s.Name, opt, s.Weights[i], s.Rewards[i])
		}
	}

	var ranked []rankedValue
	for _, row := range snap.QTable {
		for _, av := range row.Actions {
			ranked = append(ranked, rankedValue{state: row.State, action: av.Action, value: av.Value})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].value > ranked[j].value })
	if top < len(ranked) {
		ranked = ranked[:top]
	}
	if len(ranked) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "STATE\tACTION\tQ")
		for _, r := range ranked {
			fmt.Fprintf(w, "%s\t%s\t%.4f\n", r.state, r.action, r.value)
		}
	}
	return w.Flush()
}
