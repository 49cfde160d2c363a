//go:build !linux

package unixgram

import "net"

// enablePassCred is a no-op where SO_PASSCRED does not exist; unbound
// senders stay unaddressable there.
func enablePassCred(*net.UnixConn) error { return nil }
