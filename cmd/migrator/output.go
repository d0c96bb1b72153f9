package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	rootpkg "github.com/getpup/pupsourcing-migrator"
)

// printer renders command output as aligned tables or JSON.
type printer struct {
	w       io.Writer
	jsonOut bool
}

func newPrinter(w io.Writer, jsonOut bool) *printer {
	return &printer{w: w, jsonOut: jsonOut}
}

func (p *printer) encode(v interface{}) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *printer) table(write func(tw *tabwriter.Writer)) error {
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	write(tw)
	return tw.Flush()
}

func (p *printer) message(msg string) error {
	if p.jsonOut {
		return p.encode(map[string]string{"message": msg})
	}
	_, err := fmt.Fprintln(p.w, msg)
	return err
}

func (p *printer) migrations(migrations []rootpkg.Migration) error {
	if p.jsonOut {
		if migrations == nil {
			migrations = []rootpkg.Migration{}
		}
		return p.encode(migrations)
	}
	if len(migrations) == 0 {
		return p.message("No pending migrations")
	}
	return p.table(func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "VERSION\tID\tDOWNTIME\tBACKUP\tFILE")
		for _, m := range migrations {
			fmt.Fprintf(tw, "%s\t%s\t%t\t%t\t%s\n", m.Version, m.ID, m.RequiresDowntime, m.BackupRequired, m.Filename)
		}
	})
}

func (p *printer) plan(plan rootpkg.Plan) error {
	if p.jsonOut {
		return p.encode(plan)
	}
	if plan.Empty() {
		return p.message(fmt.Sprintf("Nothing to %s", verb(plan.Direction)))
	}
	return p.table(func(tw *tabwriter.Writer) {
		fmt.Fprintf(tw, "Plan: %s, %d migration(s), estimated %s\n", plan.Direction, len(plan.Migrations), plan.EstimatedDuration)
		fmt.Fprintln(tw, "STEP\tVERSION\tID\tESTIMATE")
		for i, m := range plan.Migrations {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i+1, m.Version, m.ID, m.EstimatedDuration)
		}
		for _, w := range plan.Warnings {
			fmt.Fprintf(tw, "WARNING: %s\n", w)
		}
	})
}

func (p *printer) results(plan rootpkg.Plan, results []rootpkg.MigrationResult) error {
	if p.jsonOut {
		return p.encode(struct {
			Plan    rootpkg.Plan              `json:"plan"`
			Results []rootpkg.MigrationResult `json:"results"`
		}{plan, results})
	}
	return p.table(func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "VERSION\tID\tDIRECTION\tRESULT\tDURATION\tROWS")
		for _, r := range results {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n", r.Version, r.MigrationID, r.Direction, outcome(r), r.Duration.Round(time.Millisecond), r.AffectedRows)
		}
		for _, r := range results {
			if r.Error != "" {
				fmt.Fprintf(tw, "ERROR %s: %s\n", r.MigrationID, r.Error)
			}
			for _, w := range r.Warnings {
				fmt.Fprintf(tw, "WARNING %s: %s\n", r.MigrationID, w)
			}
		}
		if skipped := len(plan.Migrations) - len(results); skipped > 0 {
			fmt.Fprintf(tw, "%d step(s) not started\n", skipped)
		}
	})
}

func outcome(r rootpkg.MigrationResult) string {
	switch {
	case r.DryRun:
		return "dry-run"
	case r.Success:
		return "ok"
	default:
		return "FAILED"
	}
}

func (p *printer) validation(result rootpkg.ValidationResult) error {
	if p.jsonOut {
		return p.encode(result)
	}
	if result.Valid {
		return p.message("All applied migrations match their definitions")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Drift detected (%d issue(s)):\n", len(result.Issues))
	for _, issue := range result.Issues {
		fmt.Fprintf(&b, "  - %s\n", issue)
	}
	_, err := io.WriteString(p.w, b.String())
	return err
}

func (p *printer) history(entries []rootpkg.LedgerEntry) error {
	if p.jsonOut {
		if entries == nil {
			entries = []rootpkg.LedgerEntry{}
		}
		return p.encode(entries)
	}
	if len(entries) == 0 {
		return p.message("No migrations recorded")
	}
	return p.table(func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "VERSION\tID\tSTATUS\tAPPLIED AT\tBY\tDURATION")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", e.Version, e.ID, e.Status, formatTime(e.AppliedAt), e.AppliedBy, e.Duration.Round(time.Millisecond))
		}
	})
}

func (p *printer) stats(stats rootpkg.Stats) error {
	if p.jsonOut {
		return p.encode(stats)
	}
	return p.table(func(tw *tabwriter.Writer) {
		writeStats(tw, stats)
	})
}

func (p *printer) status(stats rootpkg.Stats, pending []rootpkg.Migration) error {
	if p.jsonOut {
		if pending == nil {
			pending = []rootpkg.Migration{}
		}
		return p.encode(struct {
			Stats   rootpkg.Stats       `json:"stats"`
			Pending []rootpkg.Migration `json:"pending"`
		}{stats, pending})
	}
	if err := p.table(func(tw *tabwriter.Writer) { writeStats(tw, stats) }); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(p.w); err != nil {
		return err
	}
	return p.migrations(pending)
}

func writeStats(tw *tabwriter.Writer, s rootpkg.Stats) {
	fmt.Fprintf(tw, "Total:\t%d\n", s.Total)
	fmt.Fprintf(tw, "Applied:\t%d\n", s.Applied)
	fmt.Fprintf(tw, "Pending:\t%d\n", s.Pending)
	fmt.Fprintf(tw, "Failed:\t%d\n", s.Failed)
	fmt.Fprintf(tw, "Rolled back:\t%d\n", s.RolledBack)
	if s.LastAppliedVersion != "" {
		fmt.Fprintf(tw, "Last applied:\t%s at %s\n", s.LastAppliedVersion, formatTime(s.LastAppliedAt))
	}
	fmt.Fprintf(tw, "Total duration:\t%s\n", s.TotalDuration.Round(time.Millisecond))
	fmt.Fprintf(tw, "Average duration:\t%s\n", s.AverageDuration.Round(time.Millisecond))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
