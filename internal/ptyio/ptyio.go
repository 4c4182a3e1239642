//go:build darwin || linux

// Package ptyio exposes a pseudo-terminal as a virtual serial port. Bytes an
// application writes to the slave side are delivered to a read callback;
// bytes passed to Write are queued in a ring buffer and flushed to the slave
// by a background loop.
//
//	port, err := ptyio.Open(ptyio.Options{Logger: logger})
//	if err != nil {
//	    return err
//	}
//	defer port.Close()
//	port.OnRead(func(b []byte) { ... })  // data typed into port.Name()
//	port.Write([]byte("hello\r\n"))       // shows up on the slave side
package ptyio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/srg/blelink/internal/groutine"
)

// Options configures a Port. Zero fields take the default tag values.
type Options struct {
	WriteCap    int           `default:"8192"`
	ReadChunk   int           `default:"512"`
	PollTimeout time.Duration `default:"50ms"`
	Logger      *logrus.Logger
}

// Stats are the running byte counters of a Port.
type Stats struct {
	Queued  int    // bytes waiting in the write ring
	Dropped uint64 // bytes refused because the write ring was full
	Read    uint64
	Written uint64
}

// Port is an open PTY pair.
type Port struct {
	logger *logrus.Logger
	master *os.File
	slave  *os.File
	name   string
	poll   time.Duration
	chunk  int

	ring *ringbuffer.RingBuffer
	kick chan struct{}
	cb   atomic.Pointer[func([]byte)]

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once

	dropped, read, written atomic.Uint64
}

// Open creates the PTY pair, puts the slave into raw mode and starts the I/O
// loops.
func Open(opts Options) (*Port, error) {
	defaults.SetDefaults(&opts)
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}

	master, slave, err := openRaw()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Port{
		logger: logger,
		master: master,
		slave:  slave,
		name:   slave.Name(),
		poll:   opts.PollTimeout,
		chunk:  opts.ReadChunk,
		ring:   ringbuffer.New(opts.WriteCap),
		kick:   make(chan struct{}, 1),
		cancel: cancel,
	}

	p.wg.Add(2)
	groutine.Go(ctx, "pty-read-loop", p.readLoop)
	groutine.Go(ctx, "pty-write-loop", p.writeLoop)

	logger.WithField("tty", p.name).Debug("PTY opened")
	return p, nil
}

func openRaw() (*os.File, *os.File, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create PTY (check permissions and available PTY devices): %w", err)
	}

	fail := func(step string, err error) (*os.File, *os.File, error) {
		name := slave.Name()
		_ = master.Close()
		_ = slave.Close()
		return nil, nil, fmt.Errorf("failed to set PTY %s to %s mode: %w", name, step, err)
	}
	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		return fail("raw", err)
	}
	if err := syscall.SetNonblock(int(master.Fd()), true); err != nil {
		return fail("nonblocking", err)
	}
	return master, slave, nil
}

// Name is the slave device path applications open, e.g. /dev/pts/3.
func (p *Port) Name() string { return p.name }

// OnRead installs the callback receiving bytes written to the slave; nil stops
// delivery. The callback runs on the read loop and owns the slice it gets.
func (p *Port) OnRead(cb func([]byte)) {
	if cb == nil {
		p.cb.Store(nil)
		return
	}
	p.cb.Store(&cb)
}

// Write queues b for the slave without blocking. When the ring is full the
// excess is dropped and the returned count is short.
func (p *Port) Write(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	n, err := p.ring.Write(b)
	if err != nil && n == 0 && !errors.Is(err, ringbuffer.ErrIsFull) {
		return 0, err
	}
	if n < len(b) {
		p.dropped.Add(uint64(len(b) - n))
		p.logger.WithFields(logrus.Fields{
			"tty":     p.name,
			"dropped": len(b) - n,
		}).Warn("PTY write buffer overflow")
	}
	select {
	case p.kick <- struct{}{}:
	default:
	}
	return n, nil
}

func (p *Port) Stats() Stats {
	return Stats{
		Queued:  p.ring.Length(),
		Dropped: p.dropped.Load(),
		Read:    p.read.Load(),
		Written: p.written.Load(),
	}
}

// Close stops the loops and closes both ends. Safe to call more than once.
func (p *Port) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.cancel()
		p.wg.Wait()
		err = errors.Join(p.master.Close(), p.slave.Close())
		p.logger.WithField("tty", p.name).Debug("PTY closed")
	})
	return err
}

func (p *Port) readLoop(ctx context.Context) {
	defer p.wg.Done()

	fds := []unix.PollFd{{Fd: int32(p.master.Fd()), Events: unix.POLLIN}}
	buf := make([]byte, p.chunk)
	for ctx.Err() == nil {
		ready, err := unix.Poll(fds, int(p.poll.Milliseconds()))
		if err != nil && !errors.Is(err, syscall.EINTR) {
			p.logger.WithError(err).Warn("PTY read poll failed")
			return
		}
		if ready == 0 {
			continue
		}

		n, err := p.master.Read(buf)
		if n > 0 {
			p.read.Add(uint64(n))
			p.deliver(buf[:n])
		}
		if err != nil && !retryable(err) {
			p.logger.WithError(err).Debug("PTY read loop stopped")
			return
		}
	}
}

func (p *Port) deliver(b []byte) {
	cb := p.cb.Load()
	if cb == nil {
		return
	}
	chunk := append([]byte(nil), b...)
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithField("panic", r).Error("PTY read callback panicked")
		}
	}()
	(*cb)(chunk)
}

func (p *Port) writeLoop(ctx context.Context) {
	defer p.wg.Done()

	fds := []unix.PollFd{{Fd: int32(p.master.Fd()), Events: unix.POLLOUT}}
	buf := make([]byte, 4096)
	for {
		if p.ring.IsEmpty() {
			select {
			case <-ctx.Done():
				return
			case <-p.kick:
			case <-time.After(p.poll):
			}
			continue
		}

		n, err := p.ring.TryRead(buf)
		if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
			p.logger.WithError(err).Warn("PTY write ring read failed")
			continue
		}

		for off := 0; off < n; {
			if ctx.Err() != nil {
				return
			}
			w, err := p.master.Write(buf[off:n])
			off += w
			p.written.Add(uint64(w))
			if err == nil {
				continue
			}
			if !retryable(err) {
				p.logger.WithError(err).Debug("PTY write loop stopped")
				return
			}
			if _, err := unix.Poll(fds, int(p.poll.Milliseconds())); err != nil && !errors.Is(err, syscall.EINTR) {
				p.logger.WithError(err).Warn("PTY write poll failed")
			}
		}
	}
}

func retryable(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EINTR)
}
