package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/darwishdev/abc-hotels/audit"
	"github.com/darwishdev/abc-hotels/hotel"
	"github.com/darwishdev/abc-hotels/inventory"
	"github.com/darwishdev/abc-hotels/population"
)

// cliUser is the caller recorded for operator commands.
const cliUser = "cli"

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	return tw
}

// =============================================================================
// ROOM TYPES
// =============================================================================

func roomTypeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "room-type", Short: "Manage room types"}
	cmd.AddCommand(roomTypeAddCmd())
	cmd.AddCommand(roomTypeListCmd())
	return cmd
}

func roomTypeAddCmd() *cobra.Command {
	var total, outOfOrder int
	cmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Create or replace a room type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			rt := inventory.RoomTypeCapacity{Name: hotel.RoomType(args[0]), TotalUnits: total, OutOfOrderUnits: outOfOrder}
			if err := a.store.AddRoomType(cmd.Context(), rt); err != nil {
				return err
			}
			fmt.Printf("room type %s: %d units, %d out of order\n", rt.Name, rt.TotalUnits, rt.OutOfOrderUnits)
			return nil
		},
	}
	cmd.Flags().IntVar(&total, "total", 0, "total units")
	cmd.Flags().IntVar(&outOfOrder, "out-of-order", 0, "out of order units")
	_ = cmd.MarkFlagRequired("total")
	return cmd
}

func roomTypeListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List room types",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			rts, err := a.store.ListRoomTypes(cmd.Context())
			if err != nil {
				return err
			}
			tw := newTable()
			tw.AppendHeader(table.Row{"Room type", "Total", "Out of order"})
			for _, rt := range rts {
				tw.AppendRow(table.Row{rt.Name, rt.TotalUnits, rt.OutOfOrderUnits})
			}
			tw.Render()
			return nil
		},
	}
}

// =============================================================================
// POPULATION
// =============================================================================

func populateCmd() *cobra.Command {
	var req population.Request
	cmd := &cobra.Command{
		Use:   "populate",
		Short: "Backfill inventory buckets for a date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			req.RunNow = true
			resp, err := a.population.Populate(cmd.Context(), req, cliUser)
			if err != nil {
				return err
			}
			tw := newTable()
			tw.AppendHeader(table.Row{"Range", "Windows", "Created", "Failed windows"})
			tw.AppendRow(table.Row{req.StartDate + " → " + req.EndDate, resp.Windows, *resp.Created, resp.Failed})
			tw.Render()
			if resp.Failed > 0 {
				return fmt.Errorf("%d window(s) failed, see log", resp.Failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&req.StartDate, "start", "", "first night (YYYY-MM-DD)")
	cmd.Flags().StringVar(&req.EndDate, "end", "", "last night, inclusive (YYYY-MM-DD)")
	cmd.Flags().IntVar(&req.DaysPerWindow, "days-per-window", 0, "window size (default population.sync_window_days)")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

// =============================================================================
// RATE CODES
// =============================================================================

func rateCmd() *cobra.Command {
	var start, end, price string
	cmd := &cobra.Command{
		Use:   "rate CODE ROOM_TYPE",
		Short: "Price a rate code on the buckets of a room type",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			seed := inventory.RateSeed{Code: args[0], RoomType: hotel.RoomType(args[1])}
			if seed.Range.Start, err = hotel.ParseDate(start); err != nil {
				return &hotel.ValidationError{Field: "start", Value: start, Reason: "is not a date"}
			}
			if seed.Range.End, err = hotel.ParseDate(end); err != nil {
				return &hotel.ValidationError{Field: "end", Value: end, Reason: "is not a date"}
			}
			if seed.Price, err = decimal.NewFromString(price); err != nil {
				return &hotel.ValidationError{Field: "price", Value: price, Reason: "is not a decimal"}
			}
			n, err := a.store.SeedRateCodes(cmd.Context(), seed)
			if err != nil {
				return err
			}
			fmt.Printf("rate %s on %s: %d night(s) at %s\n", seed.Code, seed.RoomType, n, seed.Price.StringFixed(2))
			return nil
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "first night (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "last night, inclusive (YYYY-MM-DD)")
	cmd.Flags().StringVar(&price, "price", "", "nightly price")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	_ = cmd.MarkFlagRequired("price")
	return cmd
}

// =============================================================================
// NIGHT AUDIT
// =============================================================================

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "audit", Short: "Business date and night audit"}
	cmd.AddCommand(auditBusinessDateCmd())
	cmd.AddCommand(auditPreviewCmd())
	cmd.AddCommand(auditRunCmd())
	return cmd
}

func auditBusinessDateCmd() *cobra.Command {
	var set string
	var expected int64
	cmd := &cobra.Command{
		Use:   "business-date",
		Short: "Show the business date, or set it with --set",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			bd, err := a.audit.BusinessDate(cmd.Context())
			if err != nil {
				return err
			}
			if set != "" {
				d, err := hotel.ParseDate(set)
				if err != nil {
					return &hotel.ValidationError{Field: "set", Value: set, Reason: "is not a date"}
				}
				if !cmd.Flags().Changed("expected-version") {
					expected = bd.Version
				}
				if bd, err = a.audit.SetBusinessDate(cmd.Context(), expected, d); err != nil {
					return err
				}
			}
			shown := "not set"
			if bd.IsSet() {
				shown = bd.Date.String()
			}
			fmt.Printf("property %s business date %s (version %d)\n", cfg.Property.ID, shown, bd.Version)
			return nil
		},
	}
	cmd.Flags().StringVar(&set, "set", "", "new business date (YYYY-MM-DD)")
	cmd.Flags().Int64Var(&expected, "expected-version", 0, "version the write must match (default: current)")
	return cmd
}

func auditPreviewCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "List what the audit would charge, without writing",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			var d hotel.Date
			if date != "" {
				if d, err = hotel.ParseDate(date); err != nil {
					return &hotel.ValidationError{Field: "date", Value: date, Reason: "is not a date"}
				}
			}
			cs, err := a.audit.Preview(cmd.Context(), d)
			if err != nil {
				return err
			}
			tw := newTable()
			tw.AppendHeader(table.Row{"Night", "Reservation", "Folio window", "Invoice", "Rate"})
			for _, c := range cs {
				tw.AppendRow(table.Row{c.ForDate, c.ReservationID, c.FolioWindowID, c.InvoiceID, c.NightlyRate.StringFixed(2)})
			}
			tw.AppendFooter(table.Row{"", "", "", "Candidates", strconv.Itoa(len(cs))})
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "night to preview (default: business date)")
	return cmd
}

func auditRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the night audit now",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			trigger := audit.NewNightlyTrigger(a.audit, a.log)
			report, err := trigger.RunNow(cmd.Context())
			if report.RunID != "" {
				printReport(report)
			}
			return err
		},
	}
}

func printReport(r audit.Report) {
	tw := newTable()
	tw.AppendHeader(table.Row{"Run", "Business date", "Next", "Status", "Candidates", "Posted", "Skipped", "Failed"})
	next := "-"
	if r.Advanced {
		next = r.NextBusinessDate.String()
	}
	tw.AppendRow(table.Row{r.RunID, r.BusinessDate, next, r.Status, r.Candidates, len(r.Posted), len(r.Skipped), len(r.FailedInvoices)})
	tw.Render()
}

// =============================================================================
// CONFIG
// =============================================================================

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Inspect configuration"}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	})
	return cmd
}
