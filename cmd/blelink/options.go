package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/pkg/connection"
)

// deviceFlags are the characteristic-selection flags shared by write and
// monitor.
type deviceFlags struct {
	service string
	char    string
	notify  string
	serial  bool
	rescan  bool
	trace   bool
}

func (f *deviceFlags) register(cmd *cobra.Command, withWrite bool) {
	cmd.Flags().StringVar(&f.service, "service", "", "Service UUID or pattern; first matching service by default")
	if withWrite {
		cmd.Flags().StringVar(&f.char, "char", "", "Write characteristic UUID or pattern; first writable by default")
	}
	cmd.Flags().StringVar(&f.notify, "notify", "", "Notify characteristic UUID or pattern; first notifiable by default")
	cmd.Flags().BoolVar(&f.serial, "serial", false, "Use the Nordic UART service (RX for writes, TX for notifications)")
	cmd.Flags().BoolVar(&f.rescan, "rescan", false, "Scan again even when the device was seen before")
	cmd.Flags().BoolVar(&f.trace, "trace", false, "Print every handshake state transition")
}

// option builds the DeviceOption for identifier from the flags.
func (f *deviceFlags) option(identifier string) (connection.DeviceOption, error) {
	if f.serial {
		if f.service != "" || f.char != "" || f.notify != "" {
			return connection.DeviceOption{}, fmt.Errorf("--serial cannot be combined with --service, --char or --notify")
		}
		opt := connection.SerialOption(identifier)
		opt.ForceRescan = f.rescan
		return opt, nil
	}

	opt := connection.DeviceOption{Identifier: identifier, ForceRescan: f.rescan}
	var err error
	if opt.Service, err = device.ParsePolicy(f.service); err != nil {
		return opt, fmt.Errorf("--service: %w", err)
	}
	if opt.Write, err = device.ParsePolicy(f.char); err != nil {
		return opt, fmt.Errorf("--char: %w", err)
	}
	if opt.Notify, err = device.ParsePolicy(f.notify); err != nil {
		return opt, fmt.Errorf("--notify: %w", err)
	}
	return opt, nil
}

// syncWriter serializes writes from notification callbacks and the command.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
