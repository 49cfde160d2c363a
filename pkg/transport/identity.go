package transport

import (
    "errors"
    "fmt"
    "net"
    "strconv"
)

// ErrUnsupportedAddr is returned for addresses that cannot identify a peer.
var ErrUnsupportedAddr = errors.New("unsupported peer address")

// Family tags an Identity with its address family.
type Family uint8

const (
    FamilyUnknown Family = iota
    FamilyInet
    FamilyInet6
    FamilyLocal
)

func (f Family) String() string {
    switch f {
    case FamilyInet:
        return "inet"
    case FamilyInet6:
        return "inet6"
    case FamilyLocal:
        return "local"
    default:
        return "unknown"
    }
}

// raw sockaddr sizes, used for Len
const (
    sockaddrInetLen  = 16
    sockaddrInet6Len = 28
    sockaddrUnixHdr  = 2
)

// Identity is the raw transport identity of a peer. It is a comparable value;
// copying it copies the address bytes.
type Identity struct {
    Family Family
    Port   uint16
    // IP holds 4 bytes for FamilyInet and 16 for FamilyInet6; the rest is zero.
    IP   [16]byte
    // Zone is the IPv6 scope (interface) of a link-local address.
    Zone string
    Path string
}

// IdentityOf captures the identity of a received-from address. IPv4-mapped
// IPv6 addresses normalize to FamilyInet.
func IdentityOf(addr net.Addr) (Identity, error) {
    switch a := addr.(type) {
    case *net.UDPAddr:
        if a == nil { return Identity{}, ErrUnsupportedAddr }
        id := Identity{Port: uint16(a.Port)}
        if ip4 := a.IP.To4(); ip4 != nil {
            id.Family = FamilyInet
            copy(id.IP[:4], ip4)
            return id, nil
        }
        if len(a.IP) == net.IPv6len {
            id.Family = FamilyInet6
            id.Zone = a.Zone
            copy(id.IP[:], a.IP)
            return id, nil
        }
        return Identity{}, fmt.Errorf("%w: %v", ErrUnsupportedAddr, a)
    case *net.UnixAddr:
        if a == nil || a.Name == "" { return Identity{}, ErrUnsupportedAddr }
        return Identity{Family: FamilyLocal, Path: a.Name}, nil
    default:
        return Identity{}, fmt.Errorf("%w: %T", ErrUnsupportedAddr, addr)
    }
}

// Equal reports whether a and b denote the same peer. Network identities
// match on family, port, address bytes and IPv6 zone; local identities on
// the path.
// Different families never match.
func Equal(a, b Identity) bool {
    if a.Family != b.Family { return false }
    switch a.Family {
    case FamilyInet, FamilyInet6:
        return a.Port == b.Port && a.IP == b.IP && a.Zone == b.Zone
    case FamilyLocal:
        return a.Path == b.Path
    default:
        return true
    }
}

// Len is the byte length of the identity's raw socket address.
func (id Identity) Len() int {
    switch id.Family {
    case FamilyInet:
        return sockaddrInetLen
    case FamilyInet6:
        return sockaddrInet6Len
    case FamilyLocal:
        return sockaddrUnixHdr + len(id.Path) + 1
    default:
        return 0
    }
}

func (id Identity) String() string {
    switch id.Family {
    case FamilyInet:
        return net.JoinHostPort(net.IP(id.IP[:4]).String(), strconv.Itoa(int(id.Port)))
    case FamilyInet6:
        host := net.IP(id.IP[:]).String()
        if id.Zone != "" { host += "%" + id.Zone }
        return net.JoinHostPort(host, strconv.Itoa(int(id.Port)))
    case FamilyLocal:
        return "unix:" + id.Path
    default:
        return "unknown"
    }
}
