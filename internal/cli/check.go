package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"stockwatch/internal/coordinator"
	"stockwatch/internal/models"
	"stockwatch/internal/resilience"
	"stockwatch/internal/server"
)

func newCheckCmd(app *App) *cobra.Command {
	var segment string
	var force bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate every active condition of a segment once",
		Long: `Evaluate every active alert condition of a segment once.

Outside the segment's run hour, or on an exchange holiday, the run is skipped
and reported as such. --force ignores both checks.`,
		Example: `  stockwatch check --segment KOR
  stockwatch check --segment FOREIGN --force -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			seg, err := models.ParseSegment(segment)
			if err != nil {
				return err
			}

			rt, err := buildRuntime(app.Config, app.Logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			summary, err := rt.coordinator.RunBatch(ctx, seg, coordinator.RunOptions{
				Force: force || !app.Config.Job.EnforceHours,
			})
			if err != nil {
				return err
			}
			if output.IsStructured() {
				return output.Structured(summary)
			}
			loc, _ := app.Config.Location()
			printSummary(output, summary, loc)
			return nil
		},
	}

	cmd.Flags().StringVarP(&segment, "segment", "s", "", "market segment: KOR or FOREIGN")
	cmd.Flags().BoolVar(&force, "force", false, "run outside the segment's active hour and trading calendar")
	cmd.MarkFlagRequired("segment")
	return cmd
}

func printSummary(output *Output, s coordinator.RunSummary, loc *time.Location) {
	if s.Skipped {
		output.Warning("%s run skipped: %s", s.Segment, s.Reason)
		return
	}

	output.Bold("%s run", s.Segment)
	output.Printf("  Started:   %s\n", FormatDateTime(s.StartedAt, loc))
	output.Printf("  Duration:  %s\n", FormatDuration(s.FinishedAt.Sub(s.StartedAt)))
	output.Printf("  Processed: %d of %d\n", s.Processed, s.Total)
	output.Println()

	if len(s.Outcomes) > 0 {
		table := NewTable(output, "OUTCOME", "COUNT")
		for _, o := range SortedOutcomes(s.Outcomes) {
			table.AddRow(output.Outcome(o), fmt.Sprintf("%d", s.Outcomes[o]))
		}
		table.Render()
	}

	if len(s.Messages) > 0 {
		output.Println()
		output.Error("%d condition(s) failed:", len(s.Messages))
		for _, msg := range s.Messages {
			output.Printf("  - %s\n", TruncateString(msg, 160))
		}
	}
}

func newServeCmd(app *App) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose the check job as an HTTP trigger",
		Long: `Serve POST /check-stocks {"nationType": "KOR"} and GET /healthz.

Each request runs one batch for the requested segment, exactly like 'check'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(app.Config, app.Logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			if addr == "" {
				addr = app.Config.Server.Addr
			}

			srv := server.New(forcedRunner{rt.coordinator, !app.Config.Job.EnforceHours}, app.Logger,
				resilience.DatabaseHealthCheck(rt.store.DB().PingContext),
				resilience.BreakerHealthCheck(rt.breaker),
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return srv.Run(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

// forcedRunner applies the enforce_hours setting to HTTP-triggered runs.
type forcedRunner struct {
	*coordinator.Coordinator
	force bool
}

func (r forcedRunner) RunBatch(ctx context.Context, seg models.Segment, opts coordinator.RunOptions) (coordinator.RunSummary, error) {
	opts.Force = opts.Force || r.force
	return r.Coordinator.RunBatch(ctx, seg, opts)
}

func newMigrateCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			db, err := openStore(app.Config)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Migrate(cmd.Context()); err != nil {
				return err
			}
			if output.IsStructured() {
				return output.Structured(map[string]string{"driver": app.Config.Database.Driver, "status": "migrated"})
			}
			output.Success("Schema is up to date (%s)", app.Config.Database.Driver)
			return nil
		},
	}
}
