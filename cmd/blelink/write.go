package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/blelink/internal/codec"
	"github.com/srg/blelink/internal/orchestrator"
	"github.com/srg/blelink/internal/taskqueue"
	"github.com/srg/blelink/pkg/connection"
)

type writeFlags struct {
	deviceFlags

	hex       bool
	encoding  string
	chunked   bool
	queue     bool
	name      string
	preDelay  time.Duration
	postDelay time.Duration
	listen    time.Duration
}

func newWriteCmd(a *app) *cobra.Command {
	f := &writeFlags{}
	cmd := &cobra.Command{
		Use:   "write <identifier> <data>...",
		Short: "Connect to a device and write to it",
		Long: `Connects to the device, resolves its write characteristic and writes each
data argument in order.

Examples:
  # Write text to the first writable characteristic
  blelink write Printer "hello"

  # Write hex through a specific characteristic, in 20-byte chunks
  blelink write 11:22:33:44:55:AA 1b40 0a --hex --char ffe1 --chunked

  # Queue writes with a pause after each and listen for replies
  blelink write UART --serial --queue --post-delay 200ms "AT" "AT+VER" --listen 2s`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(cmd, a, f, args[0], args[1:])
		},
	}
	f.register(cmd, true)
	cmd.Flags().BoolVar(&f.hex, "hex", false, "Parse data as hex (e.g. 'FF01', '0x1b 0x40')")
	cmd.Flags().StringVar(&f.encoding, "encoding", "string", "Data encoding (bytes, string, hex)")
	cmd.Flags().BoolVar(&f.chunked, "chunked", false, "Split each payload into chunk_size writes")
	cmd.Flags().BoolVar(&f.queue, "queue", false, "Send through the ordered write queue")
	cmd.Flags().StringVar(&f.name, "name", "", "Name of queued writes")
	cmd.Flags().DurationVar(&f.preDelay, "pre-delay", 0, "Queue: wait before each write")
	cmd.Flags().DurationVar(&f.postDelay, "post-delay", 0, "Queue: wait after each write")
	cmd.Flags().DurationVar(&f.listen, "listen", 0, "Print notifications for this long after writing")
	return cmd
}

func (f *writeFlags) resolveEncoding() (codec.Encoding, error) {
	if f.hex {
		return codec.Hex, nil
	}
	return codec.ParseEncoding(f.encoding)
}

func runWrite(cmd *cobra.Command, a *app, f *writeFlags, identifier string, payloads []string) error {
	enc, err := f.resolveEncoding()
	if err != nil {
		return err
	}
	opt, err := f.option(identifier)
	if err != nil {
		return err
	}
	// payloads are decoded up front so a bad argument fails before connecting
	for i, p := range payloads {
		if _, err := codec.Decode([]byte(p), enc); err != nil {
			return fmt.Errorf("data argument %d: %w", i+1, err)
		}
	}

	cmd.SilenceUsage = true
	out := &syncWriter{w: cmd.OutOrStdout()}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if f.listen > 0 {
		opt.OnNotify = func(b []byte) {
			fmt.Fprintf(out, "<- %s\n", codec.BufToHex(b))
		}
	}

	m := a.newManager()
	defer m.Shutdown()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Connecting to "+identifier, "Idle",
		orchestrator.StateReady.String(), orchestrator.StateFailed.String())
	if f.trace {
		m.SetObserver(transitionLogger(cmd.ErrOrStderr()))
	} else {
		m.SetObserver(progress.Observer())
		progress.Start()
	}
	defer progress.Stop()

	if err := m.Connect(ctx, opt); err != nil {
		return err
	}
	progress.Stop()

	if f.queue {
		err = queueWrites(ctx, m, opt, f, enc, payloads, out)
	} else {
		for _, p := range payloads {
			if err = m.Write(ctx, opt, []byte(p), enc, f.chunked); err != nil {
				break
			}
			fmt.Fprintf(out, "-> %q written\n", p)
		}
	}
	if err != nil {
		return err
	}

	if f.listen > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(f.listen):
		}
	}
	return m.Close(context.Background(), opt)
}

// queueWrites enqueues every payload before waiting, so the queue alone
// orders them; a failed write does not stop the ones behind it.
func queueWrites(ctx context.Context, m *connection.Manager, opt connection.DeviceOption, f *writeFlags, enc codec.Encoding, payloads []string, out io.Writer) error {
	qopts := connection.QueueOptions{
		Name:      f.name,
		PreDelay:  f.preDelay,
		PostDelay: f.postDelay,
		Chunked:   f.chunked,
	}

	tasks := make([]*taskqueue.Task, 0, len(payloads))
	for _, p := range payloads {
		task, err := m.EnqueueWrite(ctx, opt, []byte(p), enc, qopts)
		if err != nil {
			return err
		}
		tasks = append(tasks, task)
	}

	var firstErr error
	for i, task := range tasks {
		if err := task.Wait(ctx); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			fmt.Fprintf(out, "-> %q failed (task %d): %s\n", payloads[i], task.Tag(), FormatUserError(err))
			continue
		}
		fmt.Fprintf(out, "-> %q written (task %d)\n", payloads[i], task.Tag())
	}
	return firstErr
}
