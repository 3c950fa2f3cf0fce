package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fractal-lba/adaptive/internal/engine"
	"github.com/fractal-lba/adaptive/internal/journal"
	"github.com/fractal-lba/adaptive/internal/snapshot"
)

func journalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Work with the feedback journal",
	}
	cmd.AddCommand(journalReplayCmd())
	return cmd
}

type replayReport struct {
	Files    int            `json:"files"`
	Entries  int            `json:"entries"`
	Applied  int            `json:"applied"`
	Skipped  int            `json:"skipped"`
	Covered  int            `json:"covered"`
	Since    time.Time      `json:"since,omitempty"`
	Saved    bool           `json:"saved"`
	Snapshot string         `json:"snapshot"`
	Metrics  engine.Metrics `json:"metrics"`
}

func journalReplayCmd() *cobra.Command {
	var (
		dir    string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-learn journaled feedback on top of the stored snapshot",
		Long: `Loads the configured snapshot (or starts from a fresh engine when none
exists), applies every feedback record journaled after the snapshot was
taken, oldest first, and saves the result back to the store.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.Journal.Dir
			}
			log := newLogger()
			ctx := cmd.Context()
			var since time.Time

			eng, err := engine.New(cfg.Engine, engine.WithLogger(log))
			if err != nil {
				return err
			}
			defer eng.Stop()

			store, err := snapshot.Open(ctx, cfg.Store)
			if err != nil {
				return fmt.Errorf("failed to open snapshot store: %w", err)
			}
			if store != nil {
				defer store.Close()
				snap, err := store.Load(ctx, cfg.Store.Name)
				switch {
				case errors.Is(err, snapshot.ErrSnapshotNotFound):
					log.Info("no snapshot found, replaying into a fresh engine", "name", cfg.Store.Name)
				case err != nil:
					return err
				default:
					if err := eng.Restore(snap); err != nil {
						return err
					}
					since = snap.TakenAt
				}
			}

			report, err := replayJournal(ctx, eng, dir, since)
			if err != nil {
				return err
			}
			report.Snapshot = cfg.Store.Name

			if !dryRun && store != nil {
				if err := store.Save(ctx, cfg.Store.Name, eng.Snapshot()); err != nil {
					return fmt.Errorf("failed to save snapshot: %w", err)
				}
				report.Saved = true
			}
			report.Metrics = eng.Metrics()
			return printJSON(cmd, report)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Journal directory (defaults to the configured one)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Replay without saving the snapshot")
	return cmd
}

// replayJournal applies every decodable record under dir journaled after
// since to eng. Older records are already part of the restored snapshot.
func replayJournal(ctx context.Context, eng *engine.Engine, dir string, since time.Time) (replayReport, error) {
	files, err := journal.Files(dir)
	if err != nil {
		return replayReport{}, fmt.Errorf("failed to list journal files: %w", err)
	}

	report := replayReport{Files: len(files), Since: since}
	for _, path := range files {
		entries, err := journal.Replay(path)
		if err != nil {
			return report, fmt.Errorf("failed to read %s: %w", path, err)
		}
		for _, e := range entries {
			report.Entries++
			if !e.Timestamp.After(since) {
				report.Covered++
				continue
			}
			rec, err := journal.DecodeFeedback(e)
			if err != nil {
				report.Skipped++
				continue
			}
			if !eng.Registry().Contains(rec.Action) {
				report.Skipped++
				continue
			}
			eng.Learn(ctx, rec.State, rec.Action, rec.Feedback)
			report.Applied++
		}
	}
	return report, nil
}
