package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/scanner"
)

type scanFlags struct {
	timeout  time.Duration
	format   string
	services []string
	dups     bool
}

func newScanCmd(a *app) *cobra.Command {
	f := &scanFlags{}
	cmd := &cobra.Command{
		Use:   "scan [identifier...]",
		Short: "Scan for BLE devices",
		Long: `Without identifiers, lists every device heard during the scan, strongest
signal first. With identifiers, waits until each one has been seen and
fails with scan_timeout when one is missing.

An identifier matches a device name, local name, system id or the MAC
carried in the manufacturer data.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, a, f, args)
		},
	}
	cmd.Flags().DurationVarP(&f.timeout, "timeout", "t", 0, "Scan duration; defaults to scan_timeout from config")
	cmd.Flags().StringVarP(&f.format, "format", "f", "table", "Output format (table, json)")
	cmd.Flags().StringSliceVarP(&f.services, "services", "s", nil, "Only report devices advertising these service UUIDs")
	cmd.Flags().BoolVar(&f.dups, "duplicates", true, "Report repeated advertisements (keeps RSSI fresh)")
	return cmd
}

// scanRow is one device in the scan output.
type scanRow struct {
	Identifier string `json:"identifier,omitempty"`
	Name       string `json:"name"`
	SystemID   string `json:"system_id"`
	MAC        string `json:"mac,omitempty"`
	Vendor     string `json:"vendor,omitempty"`
	RSSI       int    `json:"rssi"`
}

func newScanRow(identifier string, adv device.AdvertisedDevice) scanRow {
	r := scanRow{
		Identifier: identifier,
		Name:       adv.Name,
		SystemID:   adv.SystemID,
		MAC:        device.ParseMAC(adv.AdvertisementBytes),
		RSSI:       adv.RSSI,
	}
	if r.Name == "" {
		r.Name = adv.LocalName
	}
	if v, ok := device.VendorOf(adv.AdvertisementBytes); ok {
		r.Vendor = v.String()
	}
	return r
}

func runScan(cmd *cobra.Command, a *app, f *scanFlags, identifiers []string) error {
	if f.format != "table" && f.format != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", f.format)
	}
	var services []string
	if len(f.services) > 0 {
		var err error
		if services, err = device.ValidateUUID(f.services...); err != nil {
			return fmt.Errorf("invalid service UUID: %w", err)
		}
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := a.newManager()
	defer m.Shutdown()
	if err := m.Open(ctx); err != nil {
		return err
	}

	timeout := f.timeout
	if timeout <= 0 {
		timeout = a.cfg.ScanTimeout
	}
	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Scanning", "Scanning", "Completed", "Timeout")
	progress.Start()
	defer progress.Stop()

	opts := &scanner.ScanOptions{
		Timeout:         timeout,
		AllowDuplicates: f.dups,
		Services:        services,
		Progress:        progress.Callback(),
	}

	var rows []scanRow
	if len(identifiers) == 0 {
		devices, err := m.Scanner().Survey(ctx, opts)
		if err != nil {
			return err
		}
		for _, d := range devices {
			rows = append(rows, newScanRow("", d))
		}
	} else {
		matched, err := m.Scanner().Scan(ctx, identifiers, opts)
		if err != nil {
			return err
		}
		for _, md := range matched {
			rows = append(rows, newScanRow(md.Identifier, md.Device))
		}
	}
	progress.Stop()

	return writeScanRows(cmd.OutOrStdout(), f.format, rows)
}

func writeScanRows(out io.Writer, format string, rows []scanRow) error {
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if rows == nil {
			rows = []scanRow{}
		}
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		_, err := fmt.Fprintln(out, "No devices found")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSYSTEM ID\tMAC\tVENDOR\tRSSI")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", orDash(r.Name), r.SystemID, orDash(r.MAC), orDash(r.Vendor), r.RSSI)
	}
	return w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
