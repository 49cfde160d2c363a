package unixgram

import (
    "fmt"
    "net"

    "golang.org/x/sys/unix"
)

// enablePassCred sets SO_PASSCRED. With it set on the receiver, Linux
// assigns an abstract address to any unbound sender.
func enablePassCred(c *net.UnixConn) error {
    rc, err := c.SyscallConn()
    if err != nil { return err }
    var serr error
    if err := rc.Control(func(fd uintptr) {
        serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_PASSCRED, 1)
    }); err != nil {
        return err
    }
    if serr != nil { return fmt.Errorf("setsockopt SO_PASSCRED: %w", serr) }
    return nil
}
