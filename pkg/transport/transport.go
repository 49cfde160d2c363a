package transport

import (
    "net"
    "syscall"
)

// Kind identifies the endpoint type.
type Kind int

const (
    KindUnknown Kind = iota
    KindUDP
    KindUnixgram
)

func (k Kind) String() string {
    switch k {
    case KindUDP:
        return "udp"
    case KindUnixgram:
        return "unixgram"
    default:
        return "unknown"
    }
}

// Endpoint is a bound connectionless socket. *net.UDPConn and *net.UnixConn
// satisfy everything but Kind.
type Endpoint interface {
    Kind() Kind
    LocalAddr() net.Addr
    // ReadFrom receives one datagram and the sender's raw address. The
    // address is nil when the sender has none (unbound unix socket).
    ReadFrom(p []byte) (n int, addr net.Addr, err error)
    WriteTo(p []byte, addr net.Addr) (n int, err error)
    // SyscallConn exposes the descriptor for readiness polling.
    SyscallConn() (syscall.RawConn, error)
    Close() error
}
