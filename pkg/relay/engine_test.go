package relay

import (
    "context"
    "errors"
    "net"
    "syscall"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
    "go.uber.org/zap"
    "go.uber.org/zap/zaptest/observer"

    "github.com/KrzysztofNawara/sysopy/pkg/protocol"
    "github.com/KrzysztofNawara/sysopy/pkg/transport"
)

type sent struct {
    to   string
    data []byte
}

// fakeEndpoint records every WriteTo; reads are not used by Handle.
type fakeEndpoint struct {
    kind    transport.Kind
    sends   []sent
    failTo  string
    closed  bool
}

func (f *fakeEndpoint) Kind() transport.Kind { return f.kind }
func (f *fakeEndpoint) LocalAddr() net.Addr  { return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 2507} }
func (f *fakeEndpoint) ReadFrom([]byte) (int, net.Addr, error) {
    return 0, nil, errors.New("fake endpoint does not read")
}
func (f *fakeEndpoint) WriteTo(p []byte, addr net.Addr) (int, error) {
    if f.failTo != "" && addr.String() == f.failTo { return 0, syscall.ECONNREFUSED }
    f.sends = append(f.sends, sent{to: addr.String(), data: append([]byte(nil), p...)})
    return len(p), nil
}
func (f *fakeEndpoint) SyscallConn() (syscall.RawConn, error) { return nil, errors.New("not pollable") }
func (f *fakeEndpoint) Close() error { f.closed = true; return nil }

func (f *fakeEndpoint) sendsTo(addr string) int {
    n := 0
    for _, s := range f.sends { if s.to == addr { n++ } }
    return n
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type harness struct {
    eng   *Engine
    udp   *fakeEndpoint
    unix  *fakeEndpoint
    clock *fakeClock
    logs  *observer.ObservedLogs
}

func newHarness(t *testing.T) *harness {
    t.Helper()
    core, logs := observer.New(zap.DebugLevel)
    h := &harness{
        udp:   &fakeEndpoint{kind: transport.KindUDP},
        unix:  &fakeEndpoint{kind: transport.KindUnixgram},
        clock: &fakeClock{t: time.Unix(1_700_000_000, 0)},
        logs:  logs,
    }
    h.eng = newEngine(Options{
        LivenessTimeout: 10 * time.Second,
        Logger:          zap.New(core),
        Now:             h.clock.Now,
    }, nil, []transport.Endpoint{h.udp, h.unix})
    return h
}

func udpAddr(port int) *net.UDPAddr { return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port} }

func unixAddr(path string) *net.UnixAddr { return &net.UnixAddr{Name: path, Net: "unixgram"} }

func frame(t *testing.T, from, to, body string) []byte {
    t.Helper()
    f := protocol.Frame{From: from, To: to, Body: body}
    b, err := f.MarshalBinary()
    require.NoError(t, err)
    return b
}

func TestHeartbeatRegistersWithoutForwarding(t *testing.T) {
    h := newHarness(t)
    require.NoError(t, h.eng.Handle(h.udp, []byte{1}, udpAddr(4000)))

    reg := h.eng.Registry()
    assert.Equal(t, 1, reg.Live())
    assert.Empty(t, h.udp.sends)
    assert.Empty(t, h.unix.sends)
    assert.Equal(t, 1, h.logs.FilterMessage("heartbeat").Len())
}

func TestPayloadFansOutToEveryLivePeer(t *testing.T) {
    h := newHarness(t)
    x, y := udpAddr(4000), udpAddr(4001)
    require.NoError(t, h.eng.Handle(h.udp, protocol.Heartbeat(), x))
    require.NoError(t, h.eng.Handle(h.udp, protocol.Heartbeat(), y))

    h.clock.Advance(2 * time.Second)
    msg := frame(t, "x", "y", "hi")
    require.NoError(t, h.eng.Handle(h.udp, msg, x))

    require.Len(t, h.udp.sends, 2)
    assert.Equal(t, 1, h.udp.sendsTo(x.String()), "sender gets its own echo")
    assert.Equal(t, 1, h.udp.sendsTo(y.String()))
    for _, s := range h.udp.sends {
        assert.Equal(t, msg, s.data)
    }
    assert.Equal(t, 2, h.eng.Registry().Len())
    payload := h.logs.FilterMessage("payload").All()
    require.Len(t, payload, 1)
    assert.Equal(t, "hi", payload[0].ContextMap()["body"])
    assert.Equal(t, "x", payload[0].ContextMap()["from"])
    assert.Zero(t, h.logs.FilterMessage("payload not decodable").Len())
}

func TestPayloadFromUnregisteredSenderIsEchoed(t *testing.T) {
    h := newHarness(t)
    x := udpAddr(4000)
    require.NoError(t, h.eng.Handle(h.udp, frame(t, "x", "", "first"), x))
    assert.Equal(t, 1, h.eng.Registry().Live())
    assert.Equal(t, 1, h.udp.sendsTo(x.String()))
}

func TestRepliesUseOwningEndpoint(t *testing.T) {
    h := newHarness(t)
    u := unixAddr("/tmp/peer-a.sock")
    n := udpAddr(4000)
    require.NoError(t, h.eng.Handle(h.unix, protocol.Heartbeat(), u))
    require.NoError(t, h.eng.Handle(h.udp, frame(t, "net", "", "cross"), n))

    assert.Equal(t, 1, h.unix.sendsTo(u.String()))
    assert.Equal(t, 1, h.udp.sendsTo(n.String()))
    assert.Len(t, h.unix.sends, 1)
    assert.Len(t, h.udp.sends, 1)
}

func TestStalePeerEvictedOnPayload(t *testing.T) {
    h := newHarness(t)
    z, w := udpAddr(5000), unixAddr("/tmp/w.sock")
    require.NoError(t, h.eng.Handle(h.udp, protocol.Heartbeat(), z))
    require.NoError(t, h.eng.Handle(h.unix, protocol.Heartbeat(), w))

    h.clock.Advance(11 * time.Second)
    require.NoError(t, h.eng.Handle(h.unix, frame(t, "w", "", "anyone?"), w))

    assert.Zero(t, h.udp.sendsTo(z.String()), "no send toward the evicted peer")
    assert.Equal(t, 1, h.unix.sendsTo(w.String()))
    reg := h.eng.Registry()
    assert.True(t, reg.At(0).Evicted)
    assert.Equal(t, 2, reg.Len())
    assert.Equal(t, 1, reg.Live())
    assert.Equal(t, 1, h.logs.FilterMessage("client timed out").Len())

    // z comes back: a fresh record at a new slot
    require.NoError(t, h.eng.Handle(h.udp, protocol.Heartbeat(), z))
    i, ok := reg.Lookup(mustIdentity(t, z))
    require.True(t, ok)
    assert.Equal(t, 2, i)
}

func TestNoEvictionWithoutPayload(t *testing.T) {
    h := newHarness(t)
    z := udpAddr(5000)
    require.NoError(t, h.eng.Handle(h.udp, protocol.Heartbeat(), z))
    h.clock.Advance(time.Hour)
    require.NoError(t, h.eng.Handle(h.udp, protocol.Heartbeat(), udpAddr(5001)))
    assert.Equal(t, 2, h.eng.Registry().Live(), "liveness signals never sweep")
}

func TestTimeoutBoundaryIsExclusive(t *testing.T) {
    h := newHarness(t)
    z, w := udpAddr(5000), udpAddr(5001)
    require.NoError(t, h.eng.Handle(h.udp, protocol.Heartbeat(), z))
    h.clock.Advance(10 * time.Second)
    require.NoError(t, h.eng.Handle(h.udp, frame(t, "w", "", "edge"), w))
    assert.Equal(t, 1, h.udp.sendsTo(z.String()), "exactly the timeout is still alive")
    assert.Equal(t, 2, h.eng.Registry().Live())
}

func TestHeartbeatKeepsPeerAlive(t *testing.T) {
    h := newHarness(t)
    z, w := udpAddr(5000), udpAddr(5001)
    require.NoError(t, h.eng.Handle(h.udp, protocol.Heartbeat(), z))
    for i := 0; i < 5; i++ {
        h.clock.Advance(5 * time.Second)
        require.NoError(t, h.eng.Handle(h.udp, protocol.Heartbeat(), z))
    }
    require.NoError(t, h.eng.Handle(h.udp, frame(t, "w", "", "still there"), w))
    assert.Equal(t, 1, h.udp.sendsTo(z.String()))
}

func TestOddLengthsAreLiveness(t *testing.T) {
    h := newHarness(t)
    x := udpAddr(4000)
    for _, n := range []int{0, 1, protocol.FrameSize - 1, protocol.FrameSize + 1, 4096} {
        require.NoError(t, h.eng.Handle(h.udp, make([]byte, n), x))
    }
    assert.Empty(t, h.udp.sends)
    assert.Equal(t, 1, h.eng.Registry().Len())
}

func TestUnaddressableSenderDropped(t *testing.T) {
    h := newHarness(t)
    require.NoError(t, h.eng.Handle(h.unix, frame(t, "ghost", "", "boo"), nil))
    assert.Zero(t, h.eng.Registry().Len())
    assert.Empty(t, h.unix.sends)
    assert.Equal(t, 1, h.logs.FilterMessage("dropping datagram from unaddressable sender").Len())
}

func TestSendFailureIsFatal(t *testing.T) {
    h := newHarness(t)
    x, y := udpAddr(4000), udpAddr(4001)
    require.NoError(t, h.eng.Handle(h.udp, protocol.Heartbeat(), y))
    h.udp.failTo = y.String()
    err := h.eng.Handle(h.udp, frame(t, "x", "y", "hi"), x)
    require.Error(t, err)
    assert.ErrorIs(t, err, syscall.ECONNREFUSED)
}

func TestCloseClosesEndpoints(t *testing.T) {
    h := newHarness(t)
    require.NoError(t, h.eng.Close())
    require.NoError(t, h.eng.Close())
    assert.True(t, h.udp.closed)
    assert.True(t, h.unix.closed)
}

type scriptedWaiter struct {
    calls int
    ready [][]int
    err   error
}

func (w *scriptedWaiter) Wait(ctx context.Context, _ time.Duration) ([]int, error) {
    if err := ctx.Err(); err != nil { return nil, err }
    if w.calls >= len(w.ready) { return nil, w.err }
    r := w.ready[w.calls]
    w.calls++
    return r, nil
}

func (w *scriptedWaiter) Close() error { return nil }

func TestRunWaitFailureIsFatal(t *testing.T) {
    ep := &fakeEndpoint{kind: transport.KindUDP}
    boom := errors.New("poll exploded")
    w := &scriptedWaiter{ready: [][]int{{}, {}}, err: boom}
    eng := newEngine(Options{Logger: zap.NewNop()}, w, []transport.Endpoint{ep})

    err := eng.Run(context.Background())
    assert.ErrorIs(t, err, boom)
    assert.Equal(t, 2, w.calls, "idle waits loop again")
    assert.True(t, ep.closed)
}

func TestRunReceiveFailureIsFatal(t *testing.T) {
    ep := &fakeEndpoint{kind: transport.KindUDP}
    w := &scriptedWaiter{ready: [][]int{{0}}}
    eng := newEngine(Options{Logger: zap.NewNop()}, w, []transport.Endpoint{ep})

    err := eng.Run(context.Background())
    require.Error(t, err)
    assert.Contains(t, err.Error(), "receive on udp")
}

// interruptedEndpoint fails its first read with EINTR, then delivers one
// heartbeat per call.
type interruptedEndpoint struct {
    fakeEndpoint
    reads int
}

func (e *interruptedEndpoint) ReadFrom(p []byte) (int, net.Addr, error) {
    e.reads++
    if e.reads == 1 { return 0, nil, syscall.EINTR }
    return copy(p, protocol.Heartbeat()), udpAddr(4000), nil
}

func TestRunRetriesInterruptedReceive(t *testing.T) {
    ep := &interruptedEndpoint{fakeEndpoint: fakeEndpoint{kind: transport.KindUDP}}
    stop := errors.New("script exhausted")
    w := &scriptedWaiter{ready: [][]int{{0}, {0}}, err: stop}
    eng := newEngine(Options{Logger: zap.NewNop()}, w, []transport.Endpoint{ep})

    err := eng.Run(context.Background())
    assert.ErrorIs(t, err, stop, "only the scripted wait failure ends the loop")
    assert.Equal(t, 2, ep.reads)
    assert.Equal(t, 1, eng.Registry().Live(), "the read after EINTR is handled")
}

func TestRunStopsOnCancelledContext(t *testing.T) {
    ep := &fakeEndpoint{kind: transport.KindUDP}
    eng := newEngine(Options{Logger: zap.NewNop()}, &scriptedWaiter{}, []transport.Endpoint{ep})
    ctx, cancel := context.WithCancel(context.Background())
    cancel()
    assert.NoError(t, eng.Run(ctx))
    assert.True(t, ep.closed)
}

func TestNewRequiresEndpoints(t *testing.T) {
    _, err := New(Options{})
    assert.ErrorIs(t, err, ErrNoEndpoints)
}

func mustIdentity(t *testing.T, a net.Addr) transport.Identity {
    t.Helper()
    id, err := transport.IdentityOf(a)
    require.NoError(t, err)
    return id
}
