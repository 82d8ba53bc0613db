package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/md-rashed-zaman/upachar/libs/db"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var weekdays = []string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

var defaultSpecialties = []string{
	"General Medicine", "Cardiology", "Dermatology", "Neurology", "Orthopedics", "Gastroenterology",
	"Pulmonology", "ENT", "Ophthalmology", "Gynecology", "Psychiatry", "Pediatrics",
}

type seedOptions struct {
	From        string
	To          string
	Step        time.Duration
	Specialties []string
}

type seedResult struct {
	Days        int64
	Slots       int64
	Specialties int64
}

func newSeedCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load reference data",
	}

	opts := seedOptions{}
	catalogCmd := &cobra.Command{
		Use:   "catalog",
		Short: "Insert weekdays, bookable time slots and specialties (idempotent)",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return withPool(c.Context(), v, func(conn db.Conn) error {
				res, err := seedCatalog(c.Context(), conn, opts)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.OutOrStdout(), "seeded %d days, %d time slots, %d specialties\n", res.Days, res.Slots, res.Specialties)
				return nil
			})
		},
	}
	catalogCmd.Flags().StringVar(&opts.From, "from", "09:00", "first slot of the day (HH:MM)")
	catalogCmd.Flags().StringVar(&opts.To, "to", "17:00", "end of the last slot (HH:MM, exclusive)")
	catalogCmd.Flags().DurationVar(&opts.Step, "step", 30*time.Minute, "slot length")
	catalogCmd.Flags().StringSliceVar(&opts.Specialties, "specialty", defaultSpecialties, "specialty names to ensure")

	cmd.AddCommand(catalogCmd)
	return cmd
}

// slotTimes lists slot start times in [from, to).
func slotTimes(from, to string, step time.Duration) ([]pgtype.Time, error) {
	start, err := time.Parse("15:04", from)
	if err != nil {
		return nil, fmt.Errorf("invalid --from %q: want HH:MM", from)
	}
	end, err := time.Parse("15:04", to)
	if err != nil {
		return nil, fmt.Errorf("invalid --to %q: want HH:MM", to)
	}
	if step < time.Minute {
		return nil, fmt.Errorf("--step must be at least 1m, got %s", step)
	}
	if !end.After(start) {
		return nil, fmt.Errorf("--to must be after --from")
	}

	var out []pgtype.Time
	for t := start; t.Before(end); t = t.Add(step) {
		sinceMidnight := time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute
		out = append(out, pgtype.Time{Microseconds: sinceMidnight.Microseconds(), Valid: true})
	}
	return out, nil
}

func seedCatalog(ctx context.Context, conn db.Conn, opts seedOptions) (seedResult, error) {
	slots, err := slotTimes(opts.From, opts.To, opts.Step)
	if err != nil {
		return seedResult{}, err
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		return seedResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var res seedResult
	for _, day := range weekdays {
		tag, err := tx.Exec(ctx, `INSERT INTO days (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, day)
		if err != nil {
			return seedResult{}, fmt.Errorf("seed day %s: %w", day, err)
		}
		res.Days += tag.RowsAffected()
	}
	for _, slot := range slots {
		tag, err := tx.Exec(ctx, `INSERT INTO time_slots (slot_time) VALUES ($1) ON CONFLICT (slot_time) DO NOTHING`, slot)
		if err != nil {
			return seedResult{}, fmt.Errorf("seed time slot: %w", err)
		}
		res.Slots += tag.RowsAffected()
	}
	for _, name := range opts.Specialties {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		tag, err := tx.Exec(ctx, `INSERT INTO specialties (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name)
		if err != nil {
			return seedResult{}, fmt.Errorf("seed specialty %s: %w", name, err)
		}
		res.Specialties += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return seedResult{}, err
	}
	return res, nil
}
