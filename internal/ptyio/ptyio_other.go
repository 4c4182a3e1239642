//go:build !darwin && !linux

package ptyio

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrUnsupported is returned by Open on platforms without pseudo-terminals.
var ErrUnsupported = errors.New("PTY bridging is not supported on this platform")

type Options struct {
	WriteCap    int
	ReadChunk   int
	PollTimeout time.Duration
	Logger      *logrus.Logger
}

type Stats struct {
	Queued  int
	Dropped uint64
	Read    uint64
	Written uint64
}

type Port struct{}

func Open(Options) (*Port, error) { return nil, ErrUnsupported }
func (p *Port) Name() string { return "" }
func (p *Port) OnRead(func([]byte)) {}
func (p *Port) Write(b []byte) (int, error) { return 0, ErrUnsupported }
func (p *Port) Stats() Stats { return Stats{} }
func (p *Port) Close() error { return nil }
