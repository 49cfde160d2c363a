//go:build unix

package poller

import (
    "context"
    "errors"
    "fmt"
    "sync"
    "time"

    "golang.org/x/sys/unix"
)

const readyMask = unix.POLLIN | unix.POLLERR | unix.POLLHUP | unix.POLLNVAL

// Poller multiplexes readiness over the descriptors captured at New.
type Poller struct {
    pfds  []unix.PollFd // endpoints first, wake pipe last
    ready []int

    mu     sync.Mutex
    wakeR  int
    wakeW  int
    closed bool
}

// New captures the descriptors of conns. The conns must stay open for the
// Poller's lifetime; closing one surfaces as readiness on its index.
func New(conns ...Conn) (*Poller, error) {
    if len(conns) == 0 { return nil, ErrNoConns }
    p := &Poller{pfds: make([]unix.PollFd, 0, len(conns)+1), ready: make([]int, 0, len(conns))}
    for i, c := range conns {
        rc, err := c.SyscallConn()
        if err != nil { return nil, fmt.Errorf("endpoint %d: %w", i, err) }
        fd := -1
        if err := rc.Control(func(s uintptr) { fd = int(s) }); err != nil {
            return nil, fmt.Errorf("endpoint %d: %w", i, err)
        }
        p.pfds = append(p.pfds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
    }

    var pipe [2]int
    if err := unix.Pipe(pipe[:]); err != nil { return nil, fmt.Errorf("wake pipe: %w", err) }
    for _, fd := range pipe {
        unix.CloseOnExec(fd)
        if err := unix.SetNonblock(fd, true); err != nil {
            _ = unix.Close(pipe[0]); _ = unix.Close(pipe[1])
            return nil, fmt.Errorf("wake pipe: %w", err)
        }
    }
    p.wakeR, p.wakeW = pipe[0], pipe[1]
    p.pfds = append(p.pfds, unix.PollFd{Fd: int32(p.wakeR), Events: unix.POLLIN})
    return p, nil
}

// Wait blocks until at least one endpoint is readable, timeout elapses or
// ctx is done. It returns the indices (in New order) of ready endpoints; an
// empty result means the wait timed out. Interrupted waits (EINTR) are
// retried. A done ctx yields ctx.Err(). The returned slice is reused by the
// next call.
func (p *Poller) Wait(ctx context.Context, timeout time.Duration) ([]int, error) {
    p.mu.Lock()
    closed := p.closed
    p.mu.Unlock()
    if closed { return nil, ErrClosed }
    if err := ctx.Err(); err != nil { return nil, err }

    stop := context.AfterFunc(ctx, p.wake)
    defer stop()

    deadline := time.Now().Add(timeout)
    ms := toMillis(timeout)
    for {
        for i := range p.pfds { p.pfds[i].Revents = 0 }
        n, err := unix.Poll(p.pfds, ms)
        if errors.Is(err, unix.EINTR) {
            if err := ctx.Err(); err != nil { return nil, err }
            if timeout >= 0 {
                rem := time.Until(deadline)
                if rem <= 0 { return p.ready[:0], nil }
                ms = toMillis(rem)
            }
            continue
        }
        if err != nil { return nil, fmt.Errorf("poll: %w", err) }

        wake := len(p.pfds) - 1
        if p.pfds[wake].Revents != 0 { p.drain() }
        if err := ctx.Err(); err != nil { return nil, err }
        if n == 0 { return p.ready[:0], nil }

        ready := p.ready[:0]
        for i := 0; i < wake; i++ {
            if p.pfds[i].Revents&readyMask != 0 { ready = append(ready, i) }
        }
        p.ready = ready
        return ready, nil
    }
}

// Close releases the wake pipe. The endpoints are not closed.
func (p *Poller) Close() error {
    p.mu.Lock()
    defer p.mu.Unlock()
    if p.closed { return nil }
    p.closed = true
    err := unix.Close(p.wakeR)
    if werr := unix.Close(p.wakeW); err == nil { err = werr }
    return err
}

func (p *Poller) wake() {
    p.mu.Lock()
    defer p.mu.Unlock()
    if p.closed { return }
    // a full pipe already guarantees a wakeup
    _, _ = unix.Write(p.wakeW, []byte{1})
}

func (p *Poller) drain() {
    var buf [64]byte
    for {
        n, err := unix.Read(p.wakeR, buf[:])
        if n <= 0 || err != nil { return }
    }
}

func toMillis(d time.Duration) int {
    if d < 0 { return -1 }
    ms := d / time.Millisecond
    if d%time.Millisecond != 0 { ms++ }
    return int(ms)
}
