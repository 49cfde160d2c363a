// Package relay runs the datagram relay loop: it waits for readiness on the
// bound endpoints, registers every sender by transport identity and fans
// payload frames out to every peer heard from within the liveness timeout.
//
// The loop is single-threaded. The Registry is owned by the Engine and is
// only touched between readiness waits.
package relay

import (
    "context"
    "errors"
    "fmt"
    "net"
    "sync"
    "syscall"
    "time"

    "go.uber.org/multierr"
    "go.uber.org/zap"

    "github.com/KrzysztofNawara/sysopy/pkg/observability"
    "github.com/KrzysztofNawara/sysopy/pkg/peers"
    "github.com/KrzysztofNawara/sysopy/pkg/poller"
    "github.com/KrzysztofNawara/sysopy/pkg/protocol"
    "github.com/KrzysztofNawara/sysopy/pkg/transport"
)

var ErrNoEndpoints = errors.New("relay: no endpoints")

const (
    DefaultPollInterval    = 2500 * time.Millisecond
    DefaultLivenessTimeout = 10 * time.Second
    DefaultBufferSize      = 64 * 1024
)

type Options struct {
    PollInterval    time.Duration // bound on each readiness wait
    LivenessTimeout time.Duration // peers silent for longer are evicted on the next payload
    BufferSize      int           // receive buffer, at least protocol.FrameSize
    Logger          *zap.Logger
    Metrics         *observability.Metrics
    Now             func() time.Time
}

func (o Options) withDefaults() Options {
    res := o
    if res.PollInterval <= 0 { res.PollInterval = DefaultPollInterval }
    if res.LivenessTimeout <= 0 { res.LivenessTimeout = DefaultLivenessTimeout }
    if res.BufferSize < protocol.FrameSize { res.BufferSize = DefaultBufferSize }
    if res.Logger == nil { res.Logger = zap.L() }
    if res.Now == nil { res.Now = time.Now }
    return res
}

type waiter interface {
    Wait(ctx context.Context, timeout time.Duration) ([]int, error)
    Close() error
}

// Engine is the relay loop over a fixed set of endpoints.
type Engine struct {
    opts   Options
    log    *zap.Logger
    eps    []transport.Endpoint
    poller waiter
    reg    *peers.Registry
    buf    []byte

    closeOnce sync.Once
    closeErr  error
}

// New builds an Engine over eps. The Engine takes ownership of the endpoints
// and closes them when Run returns.
func New(opts Options, eps ...transport.Endpoint) (*Engine, error) {
    if len(eps) == 0 { return nil, ErrNoEndpoints }
    conns := make([]poller.Conn, len(eps))
    for i, ep := range eps { conns[i] = ep }
    p, err := poller.New(conns...)
    if err != nil { return nil, fmt.Errorf("poller: %w", err) }
    return newEngine(opts, p, eps), nil
}

func newEngine(opts Options, w waiter, eps []transport.Endpoint) *Engine {
    opts = opts.withDefaults()
    return &Engine{
        opts:   opts,
        log:    opts.Logger,
        eps:    eps,
        poller: w,
        reg:    peers.NewRegistry(),
        buf:    make([]byte, opts.BufferSize),
    }
}

// Registry exposes the peer table. It must not be used while Run is active.
func (e *Engine) Registry() *peers.Registry { return e.reg }

// Run relays until ctx is done or a fatal error occurs. Cancellation is
// observed between datagrams, so a fan-out in progress always completes.
// Endpoints are closed on return.
func (e *Engine) Run(ctx context.Context) (err error) {
    defer func() { err = multierr.Append(err, e.Close()) }()

    for _, ep := range e.eps {
        e.log.Info("relay listening", zap.Stringer("endpoint", ep.Kind()), zap.Stringer("addr", ep.LocalAddr()))
    }
    for {
        if ctx.Err() != nil {
            e.log.Info("shutting down", zap.Int("peers", e.reg.Live()))
            return nil
        }
        ready, err := e.poller.Wait(ctx, e.opts.PollInterval)
        if err != nil {
            if ctx.Err() != nil { continue }
            return fmt.Errorf("wait: %w", err)
        }
        if len(ready) == 0 {
            e.log.Debug("poll idle", zap.Duration("interval", e.opts.PollInterval))
            e.opts.Metrics.PollIdle()
            continue
        }
        for _, i := range ready {
            if err := e.receive(e.eps[i]); err != nil { return err }
        }
    }
}

// Close closes the poller and every endpoint. Safe to call more than once.
func (e *Engine) Close() error {
    e.closeOnce.Do(func() {
        var err error
        if e.poller != nil { err = multierr.Append(err, e.poller.Close()) }
        for _, ep := range e.eps {
            if cerr := ep.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
                err = multierr.Append(err, fmt.Errorf("close %s: %w", ep.Kind(), cerr))
            }
        }
        e.closeErr = err
    })
    return e.closeErr
}

func (e *Engine) receive(ep transport.Endpoint) error {
    n, from, err := ep.ReadFrom(e.buf)
    if err != nil {
        if errors.Is(err, syscall.EINTR) { return nil }
        return fmt.Errorf("receive on %s: %w", ep.Kind(), err)
    }
    return e.Handle(ep, e.buf[:n], from)
}

// Handle processes one datagram received on ep from the given sender
// address: the sender is registered or refreshed, and a payload-sized
// datagram is forwarded to every live peer, the sender included. The
// returned error is fatal to the relay.
func (e *Engine) Handle(ep transport.Endpoint, datagram []byte, from net.Addr) error {
    id, err := transport.IdentityOf(from)
    if err != nil {
        // an unbound unix sender the kernel did not autobind has no address to answer
        e.log.Warn("dropping datagram from unaddressable sender", zap.Stringer("endpoint", ep.Kind()), zap.Int("bytes", len(datagram)), zap.Error(err))
        return nil
    }

    now := e.opts.Now()
    if i, ok := e.reg.Lookup(id); ok {
        e.reg.Touch(i, now)
    } else {
        i = e.reg.Insert(id, from, ep, now)
        e.log.Info("peer registered", zap.Stringer("peer", id), zap.Int("slot", i), zap.Stringer("endpoint", ep.Kind()))
        e.opts.Metrics.Registered(e.reg.Live())
    }

    kind := protocol.Classify(len(datagram))
    e.opts.Metrics.Received(ep.Kind().String(), kind.String())
    if kind == protocol.KindLiveness {
        e.log.Debug("heartbeat", zap.Stringer("peer", id), zap.Int("bytes", len(datagram)))
        return nil
    }

    var f protocol.Frame
    if err := f.UnmarshalBinary(datagram); err != nil {
        e.log.Warn("payload not decodable", zap.Stringer("peer", id), zap.Int("bytes", len(datagram)), zap.Error(err))
    } else {
        e.log.Info("payload", zap.Stringer("peer", id), zap.String("from", f.From), zap.String("to", f.To), zap.String("body", f.Body))
    }
    return e.fanOut(datagram)
}

// fanOut walks the registry once: stale records are evicted, the rest get
// an exact copy of datagram through the endpoint they were heard on.
func (e *Engine) fanOut(datagram []byte) error {
    now := e.opts.Now()
    for i := 0; i < e.reg.Len(); i++ {
        rec := e.reg.At(i)
        if rec.Evicted { continue }
        if idle := now.Sub(rec.LastSeen); idle > e.opts.LivenessTimeout {
            e.reg.Evict(i)
            e.log.Info("client timed out", zap.Stringer("peer", rec.ID), zap.Int("slot", i), zap.Duration("idle", idle))
            e.opts.Metrics.Evicted(e.reg.Live())
            continue
        }
        if _, err := rec.Endpoint.WriteTo(datagram, rec.Addr); err != nil {
            return fmt.Errorf("forward to %s: %w", rec.ID, err)
        }
        e.opts.Metrics.Forwarded()
    }
    return nil
}
