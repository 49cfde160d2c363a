// Package poller waits for readability across a fixed set of bound
// datagram endpoints with a bounded timeout.
//
// A Poller is used from a single goroutine. Cancelling the context passed to
// Wait interrupts a blocked wait through an internal wake pipe, so shutdown
// never waits out the full timeout.
package poller

import (
    "errors"
    "syscall"
)

var (
    ErrClosed      = errors.New("poller closed")
    ErrNoConns     = errors.New("poller: no endpoints")
    ErrUnsupported = errors.New("poller: unsupported platform")
)

// Conn is anything exposing a pollable descriptor, e.g. *net.UDPConn.
type Conn interface {
    SyscallConn() (syscall.RawConn, error)
}
