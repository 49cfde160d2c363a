package main

import (
    "fmt"
    "net"
    "strconv"

    "github.com/spf13/cobra"

    "github.com/KrzysztofNawara/sysopy/pkg/config"
    "github.com/KrzysztofNawara/sysopy/pkg/transport/unixgram"
)

// Options holds the positional arguments and flags of the relay.
type Options struct {
    ConfigPath string
    SocketPath string
    IP         string
    Port       string
}

// newRootCmd wires the CLI; the parsed Options are handed to runFn.
func newRootCmd(runFn func(Options) int, exitCode *int) *cobra.Command {
    var opts Options
    cmd := &cobra.Command{
        Use:   "dgrelay <unix_socket_path> <ip> <port>",
        Short: "Relay chat datagrams between unix-socket and UDP peers",
        Long: `dgrelay binds a unix datagram socket and a UDP socket, tracks every peer
that sends to either of them, and forwards each full message frame to all
peers heard from within the liveness timeout.`,
        Args:          cobra.ExactArgs(3),
        SilenceUsage:  true,
        SilenceErrors: true,
        RunE: func(cmd *cobra.Command, args []string) error {
            opts.SocketPath, opts.IP, opts.Port = args[0], args[1], args[2]
            *exitCode = runFn(opts)
            return nil
        },
    }
    cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "Path to YAML config file")
    return cmd
}

// validateArgs checks the positional arguments and returns the UDP bind
// address.
func validateArgs(opts Options, rc config.RelayConfig) (string, error) {
    if err := unixgram.ValidatePath(opts.SocketPath); err != nil {
        return "", fmt.Errorf("socket path: %w", err)
    }
    ip := net.ParseIP(opts.IP)
    if ip == nil || ip.To4() == nil {
        return "", fmt.Errorf("wrong IP format: %q", opts.IP)
    }
    port, err := strconv.Atoi(opts.Port)
    if err != nil || port < rc.MinPort || port > rc.MaxPort {
        return "", fmt.Errorf("wrong port: %q (allowed %d-%d)", opts.Port, rc.MinPort, rc.MaxPort)
    }
    return net.JoinHostPort(ip.String(), strconv.Itoa(port)), nil
}
