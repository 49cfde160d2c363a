package main

import (
    "errors"
    "fmt"
    "io"
    "net"
    "os"
    "path/filepath"
    "strconv"
    "time"

    "github.com/spf13/cobra"
    "go.uber.org/zap"

    "github.com/KrzysztofNawara/sysopy/pkg/protocol"
    "github.com/KrzysztofNawara/sysopy/pkg/transport"
    "github.com/KrzysztofNawara/sysopy/pkg/transport/udp"
    "github.com/KrzysztofNawara/sysopy/pkg/transport/unixgram"
)

type sendOptions struct {
    Unix       string
    Addr       string
    From       string
    To         string
    Msg        string
    Heartbeats int
    Interval   time.Duration
    Listen     time.Duration
}

func main() {
    if err := newRootCmd().Execute(); err != nil {
        fatalf("%v", err)
    }
}

func newRootCmd() *cobra.Command {
    var o sendOptions
    cmd := &cobra.Command{
        Use:           "dgrelay-send",
        Short:         "Send heartbeats and one message frame to a dgrelay, then print what comes back",
        Args:          cobra.NoArgs,
        SilenceUsage:  true,
        SilenceErrors: true,
        RunE: func(cmd *cobra.Command, args []string) error {
            logger, _ := zap.NewDevelopment()
            zap.ReplaceGlobals(logger)
            defer func() { _ = logger.Sync() }()
            return send(o, os.Stdout)
        },
    }
    f := cmd.Flags()
    f.StringVar(&o.Unix, "unix", "", "relay unix socket path")
    f.StringVar(&o.Addr, "addr", "", "relay UDP address ip:port")
    f.StringVar(&o.From, "from", "peer", "sender name")
    f.StringVar(&o.To, "to", "all", "recipient name")
    f.StringVar(&o.Msg, "msg", "hello", "message body")
    f.IntVar(&o.Heartbeats, "heartbeats", 1, "heartbeats sent before the message")
    f.DurationVar(&o.Interval, "interval", 100*time.Millisecond, "delay between heartbeats")
    f.DurationVar(&o.Listen, "listen", 2*time.Second, "how long to print incoming frames")
    cmd.MarkFlagsMutuallyExclusive("unix", "addr")
    cmd.MarkFlagsOneRequired("unix", "addr")
    return cmd
}

// send binds a local endpoint of the relay's kind, announces itself, sends
// one frame and prints every frame received until the listen window closes.
func send(o sendOptions, out io.Writer) error {
    msg := protocol.Frame{From: o.From, To: o.To, Body: o.Msg}
    frame, err := msg.MarshalBinary()
    if err != nil { return err }

    ep, relay, cleanup, err := bind(o)
    if err != nil { return err }
    defer cleanup()

    for i := 0; i < o.Heartbeats; i++ {
        if _, err := ep.WriteTo(protocol.Heartbeat(), relay); err != nil { return fmt.Errorf("heartbeat: %w", err) }
        time.Sleep(o.Interval)
    }
    if _, err := ep.WriteTo(frame, relay); err != nil { return fmt.Errorf("send: %w", err) }
    zap.L().Info("frame sent", zap.Stringer("relay", relay), zap.Stringer("local", ep.LocalAddr()))

    deadline := time.Now().Add(o.Listen)
    buf := make([]byte, 64*1024)
    for {
        if err := ep.SetReadDeadline(deadline); err != nil { return err }
        n, _, err := ep.ReadFrom(buf)
        if err != nil {
            var ne net.Error
            if errors.As(err, &ne) && ne.Timeout() { return nil }
            return fmt.Errorf("receive: %w", err)
        }
        if protocol.Classify(n) != protocol.KindPayload {
            zap.L().Debug("ignoring non-frame datagram", zap.Int("bytes", n))
            continue
        }
        var f protocol.Frame
        if err := f.UnmarshalBinary(buf[:n]); err != nil { return err }
        fmt.Fprintf(out, "[%s] %s\n", f.From, f.Body)
    }
}

type deadlineEndpoint interface {
    transport.Endpoint
    SetReadDeadline(t time.Time) error
}

func bind(o sendOptions) (deadlineEndpoint, net.Addr, func(), error) {
    if o.Unix != "" {
        if err := unixgram.ValidatePath(o.Unix); err != nil { return nil, nil, nil, err }
        // a unix peer must be bound to be answerable
        local := filepath.Join(os.TempDir(), "dgrelay-send-"+strconv.Itoa(os.Getpid())+".sock")
        ep, err := unixgram.Listen(local)
        if err != nil { return nil, nil, nil, err }
        cleanup := func() {
            _ = ep.Close()
            _ = os.Remove(local)
        }
        return ep, &net.UnixAddr{Name: o.Unix, Net: "unixgram"}, cleanup, nil
    }
    raddr, err := net.ResolveUDPAddr("udp4", o.Addr)
    if err != nil { return nil, nil, nil, err }
    ep, err := udp.Listen(":0")
    if err != nil { return nil, nil, nil, err }
    return ep, raddr, func() { _ = ep.Close() }, nil
}

func fatalf(format string, args ...interface{}) {
    fmt.Fprintf(os.Stderr, format+"\n", args...)
    os.Exit(1)
}
