package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/blelink/internal/codec"
	"github.com/srg/blelink/internal/groutine"
	"github.com/srg/blelink/internal/ptyio"
	"github.com/srg/blelink/pkg/connection"
)

const bridgeTaskName = "bridge"

type bridgeFlags struct {
	deviceFlags

	link     string
	duration time.Duration
}

func newBridgeCmd(a *app) *cobra.Command {
	f := &bridgeFlags{}
	cmd := &cobra.Command{
		Use:   "bridge <identifier>",
		Short: "Expose a device as a virtual serial port",
		Long: `Creates a pseudo-terminal bridged to the device. Bytes written to the
terminal go to the write characteristic through the ordered write queue;
notifications are written back to the terminal.

Without selection flags the Nordic UART service is used.

Example:
  blelink bridge Printer-01 --link /tmp/printer
  screen /tmp/printer`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBridge(cmd, a, f, args[0])
		},
	}
	f.register(cmd, true)
	cmd.Flags().StringVar(&f.link, "link", "", "Create a symlink to the terminal device at this path")
	cmd.Flags().DurationVarP(&f.duration, "duration", "d", 0, "Stop after this long (0 runs until interrupted)")
	return cmd
}

func runBridge(cmd *cobra.Command, a *app, f *bridgeFlags, identifier string) error {
	if f.service == "" && f.char == "" && f.notify == "" {
		f.serial = true
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

	m := a.newManager()
	defer m.Shutdown()
	if f.trace {
		m.SetObserver(transitionLogger(cmd.ErrOrStderr()))
	}

	port, err := ptyio.Open(ptyio.Options{Logger: a.logger})
	if err != nil {
		return err
	}
	defer port.Close()

	closed := make(chan struct{})
	opt.OnNotify = func(b []byte) { _, _ = port.Write(b) }
	opt.OnClose = func() { close(closed) }
	if err := m.Connect(ctx, opt); err != nil {
		return err
	}

	port.OnRead(func(b []byte) { bridgeWrite(ctx, m, opt, b, a.logger) })

	if f.link != "" {
		if err := os.Symlink(port.Name(), f.link); err != nil {
			return fmt.Errorf("failed to create tty symlink %s -> %s: %w", f.link, port.Name(), err)
		}
		defer func() {
			if err := os.Remove(f.link); err != nil {
				a.logger.WithError(err).WithField("link", f.link).Warn("Failed to remove tty symlink")
			}
		}()
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Bridge ready: %s\n", port.Name())

	var lost bool
	select {
	case <-closed:
		lost = true
	case <-ctx.Done():
	}

	port.OnRead(nil)
	m.CancelQueued(bridgeTaskName)
	st := port.Stats()
	fmt.Fprintf(cmd.ErrOrStderr(), "Bridge stopped: %d bytes to device, %d bytes from device\n", st.Read, st.Written)
	if st.Dropped > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "%d bytes from device dropped\n", st.Dropped)
	}
	if lost {
		return fmt.Errorf("%s disconnected", identifier)
	}
	return m.Close(context.Background(), opt)
}

// bridgeWrite queues terminal input for the device; failures are logged since
// the terminal side has no error channel.
func bridgeWrite(ctx context.Context, m *connection.Manager, opt connection.DeviceOption, b []byte, logger *logrus.Logger) {
	task, err := m.EnqueueWrite(ctx, opt, b, codec.Bytes, connection.QueueOptions{Name: bridgeTaskName, Chunked: true})
	if err != nil {
		logger.WithError(err).Warn("Bridge write rejected")
		return
	}
	groutine.Go(ctx, "bridge-write-wait", func(ctx context.Context) {
		if err := task.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
			logger.WithFields(logrus.Fields{
				"identifier": opt.Identifier,
				"bytes":      len(b),
				"error":      err,
			}).Warn("Bridge write failed")
		}
	})
}
