package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/srg/blelink/internal/codec"
	"github.com/srg/blelink/internal/ringchan"
)

const monitorBufferSize = 256

type monitorFlags struct {
	deviceFlags

	duration time.Duration
	format   string
}

func newMonitorCmd(a *app) *cobra.Command {
	f := &monitorFlags{}
	cmd := &cobra.Command{
		Use:   "monitor <identifier>",
		Short: "Print notifications from a device",
		Long: `Connects to the device, subscribes to its notify characteristic and prints
every notification until interrupted or --duration elapses. A slow
terminal drops the oldest notifications rather than stalling the radio.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor(cmd, a, f, args[0])
		},
	}
	f.register(cmd, false)
	cmd.Flags().DurationVarP(&f.duration, "duration", "d", 0, "Stop after this long (0 runs until interrupted)")
	cmd.Flags().StringVarP(&f.format, "format", "f", "hex", "Output format (hex, text)")
	return cmd
}

func runMonitor(cmd *cobra.Command, a *app, f *monitorFlags, identifier string) error {
	if f.format != "hex" && f.format != "text" {
		return fmt.Errorf("invalid format '%s': must be one of [hex text]", f.format)
	}
	opt, err := f.option(identifier)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if f.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.duration)
		defer cancel()
	}

	values := ringchan.New[[]byte](monitorBufferSize)
	closed := make(chan struct{})
	opt.OnNotify = func(b []byte) { values.Send(b) }
	opt.OnClose = func() { close(closed) }

	m := a.newManager()
	defer m.Shutdown()
	if f.trace {
		m.SetObserver(transitionLogger(cmd.ErrOrStderr()))
	}
	if err := m.Connect(ctx, opt); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Monitoring %s, press Ctrl+C to stop\n", identifier)

	out := cmd.OutOrStdout()
	var lost bool
loop:
	for {
		select {
		case b := <-values.C():
			printValue(out, f.format, b)
		case <-closed:
			lost = true
			break loop
		case <-ctx.Done():
			break loop
		}
	}
	for len(values.C()) > 0 {
		printValue(out, f.format, <-values.C())
	}

	written, overwritten := values.Stats()
	if overwritten > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "%d of %d notifications dropped\n", overwritten, written)
	}
	if lost {
		return fmt.Errorf("%s disconnected", identifier)
	}
	return m.Close(context.Background(), opt)
}

func printValue(out io.Writer, format string, b []byte) {
	if format == "text" && utf8.Valid(b) {
		fmt.Fprintf(out, "%s\n", b)
		return
	}
	fmt.Fprintln(out, codec.BufToHex(b))
}
