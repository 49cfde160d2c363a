package main

import (
    "context"
    "os"
    "os/signal"
    "syscall"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
    "go.uber.org/zap"

    "github.com/KrzysztofNawara/sysopy/pkg/config"
    "github.com/KrzysztofNawara/sysopy/pkg/observability"
    "github.com/KrzysztofNawara/sysopy/pkg/relay"
    "github.com/KrzysztofNawara/sysopy/pkg/transport/udp"
    "github.com/KrzysztofNawara/sysopy/pkg/transport/unixgram"
)

// run is the main entry point after CLI parsing.
func run(opts Options) int {
    cfg, err := config.Load(opts.ConfigPath)
    if err != nil {
        _, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
        return 1
    }

    // reject bad arguments before anything is bound
    udpAddr, err := validateArgs(opts, cfg.Relay)
    if err != nil {
        _, _ = os.Stderr.WriteString(err.Error() + "\n")
        return 1
    }

    logger, err := observability.SetupLogger(cfg.Log)
    if err != nil {
        _, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
        return 1
    }
    defer func() { _ = logger.Sync() }()

    // Startup logs + configuration dump
    zap.L().Info("dgrelay started", zap.String("app", cfg.AppName))
    zap.L().Info("effective configuration", zap.Any("config", cfg))

    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
    defer stop()

    var metrics *observability.Metrics
    if cfg.Metrics.Listen != "" {
        reg := prometheus.NewRegistry()
        reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
        metrics, err = observability.NewMetrics(cfg.Metrics.Namespace, reg)
        if err != nil {
            zap.L().Error("failed to register metrics", zap.Error(err))
            return 1
        }
        go func() {
            if err := observability.ServeMetrics(ctx, cfg.Metrics.Listen, reg); err != nil {
                zap.L().Warn("metrics endpoint stopped", zap.Error(err))
            }
        }()
    }

    nep, err := udp.Listen(udpAddr)
    if err != nil {
        zap.L().Error("failed to bind network endpoint", zap.Error(err))
        return 1
    }
    uep, err := unixgram.Listen(opts.SocketPath)
    if err != nil {
        _ = nep.Close()
        zap.L().Error("failed to bind local endpoint", zap.Error(err))
        return 1
    }

    eng, err := relay.New(relay.Options{
        PollInterval:    cfg.Relay.PollInterval(),
        LivenessTimeout: cfg.Relay.LivenessTimeout(),
        BufferSize:      cfg.Relay.BufferSize,
        Logger:          zap.L().Named("relay"),
        Metrics:         metrics,
    }, nep, uep)
    if err != nil {
        _ = nep.Close()
        _ = uep.Close()
        zap.L().Error("failed to start relay", zap.Error(err))
        return 1
    }

    zap.L().Info("waiting for peers; press Ctrl+C to exit", zap.String("udp", udpAddr), zap.String("unix", opts.SocketPath))
    if err := eng.Run(ctx); err != nil {
        zap.L().Error("relay failed", zap.Error(err))
        return 1
    }
    zap.L().Info("shutdown complete")
    return 0
}
