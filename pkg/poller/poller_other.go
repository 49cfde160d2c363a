//go:build !unix

package poller

import (
    "context"
    "time"
)

// Poller is unavailable on this platform.
type Poller struct{}

func New(conns ...Conn) (*Poller, error) { return nil, ErrUnsupported }

func (p *Poller) Wait(ctx context.Context, timeout time.Duration) ([]int, error) { return nil, ErrUnsupported }

func (p *Poller) Close() error { return nil }
