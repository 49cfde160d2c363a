package udp

import (
    "fmt"
    "net"

    "github.com/KrzysztofNawara/sysopy/pkg/transport"
)

// Endpoint is a bound UDP socket. The relay reads every peer's datagrams
// from it and replies through it with WriteTo.
type Endpoint struct {
    *net.UDPConn
}

// Listen binds a UDP endpoint on address ("ip:port").
func Listen(address string) (*Endpoint, error) {
    laddr, err := net.ResolveUDPAddr("udp", address)
    if err != nil { return nil, fmt.Errorf("resolve %s: %w", address, err) }
    c, err := net.ListenUDP("udp", laddr)
    if err != nil { return nil, fmt.Errorf("bind udp %s: %w", address, err) }
    return &Endpoint{UDPConn: c}, nil
}

func (e *Endpoint) Kind() transport.Kind { return transport.KindUDP }

var _ transport.Endpoint = (*Endpoint)(nil)
