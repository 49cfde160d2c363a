package unixgram

import (
    "errors"
    "fmt"
    "io/fs"
    "net"
    "os"

    "github.com/KrzysztofNawara/sysopy/pkg/transport"
)

// MaxPathLen is the longest socket path accepted (size of sun_path).
const MaxPathLen = 108

var ErrPathTooLong = errors.New("unix socket path too long")

// Endpoint is a bound unix datagram socket.
type Endpoint struct {
    *net.UnixConn
}

// Listen binds a unix datagram endpoint at path. Whatever already exists at
// path is removed first; the socket file is left in place on Close.
// Credential passing is enabled where supported so that senders which never
// bound their own socket are autobound by the kernel and can be answered.
func Listen(path string) (*Endpoint, error) {
    if err := ValidatePath(path); err != nil { return nil, err }
    if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
        return nil, fmt.Errorf("remove stale %s: %w", path, err)
    }
    c, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
    if err != nil { return nil, fmt.Errorf("bind unixgram %s: %w", path, err) }
    if err := enablePassCred(c); err != nil {
        _ = c.Close()
        return nil, fmt.Errorf("unixgram %s: %w", path, err)
    }
    return &Endpoint{UnixConn: c}, nil
}

// ValidatePath checks path against the platform socket path limit.
func ValidatePath(path string) error {
    if path == "" { return fmt.Errorf("empty unix socket path") }
    if len(path) > MaxPathLen { return fmt.Errorf("%w: %d > %d", ErrPathTooLong, len(path), MaxPathLen) }
    return nil
}

func (e *Endpoint) Kind() transport.Kind { return transport.KindUnixgram }

var _ transport.Endpoint = (*Endpoint)(nil)
