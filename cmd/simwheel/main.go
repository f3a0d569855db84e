// Command simwheel emulates a gear shifter node on a CAN bus.
//
// Without -iface or -serial it runs against an in-memory bus in loopback
// mode, so a lone process hears its own gear frames:
//
//	simwheel -interval 500ms -log-level debug
//	simwheel -iface vcan0 -mode normal
//	simwheel -serial /dev/ttyACM0 -bitrate 500000 -mqtt mqtt://localhost:1883/sim/
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/notnil/simwheel/canbus"
	"github.com/notnil/simwheel/config"
	"github.com/notnil/simwheel/node"
	"github.com/notnil/simwheel/slcan"
	"github.com/notnil/simwheel/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "simwheel:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Parse(os.Args[0], os.Args[1:])
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	bus, err := openBus(cfg, logger)
	if err != nil {
		return err
	}
	if cfg.TraceBus {
		bus = canbus.NewLoggedBus(bus, logger.With("component", "bus"), slog.LevelDebug, canbus.LogAll, nil)
	}
	ctrl := canbus.NewController(bus, canbus.WithControllerLogger(logger.With("component", "controller")))
	defer ctrl.Close()

	n, err := node.New(ctrl, cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MQTT != "" {
		client, prefix, err := telemetry.Connect(cfg.MQTT)
		if err != nil {
			logger.Error("telemetry disabled", "error", err)
		} else {
			defer client.Disconnect(250)
			pub := telemetry.NewPublisher(client, prefix,
				telemetry.WithCodec(n.Codec()),
				telemetry.WithLogger(logger.With("component", "telemetry")))
			if _, err := pub.Register(ctrl); err != nil {
				logger.Error("telemetry rx filter", "error", err)
			} else {
				go pub.Run(ctx)
				logger.Info("telemetry enabled", "topic", pub.Topic())
			}
		}
	}

	if err := n.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutting down")
	return nil
}

func openBus(cfg config.Config, logger *slog.Logger) (canbus.Bus, error) {
	switch {
	case cfg.Serial != "":
		port, err := slcan.Open(cfg.Serial, cfg.Baud, slcan.Options{
			Bitrate:    cfg.Bitrate,
			ListenOnly: cfg.Mode == canbus.ModeListenOnly,
			Logger:     logger.With("component", "slcan"),
		})
		if err != nil {
			return nil, err
		}
		return port, nil
	case cfg.Interface != "":
		return dialSocketCAN(cfg, logger)
	}
	logger.Info("using in-memory bus")
	lb := canbus.NewLoopbackBus()
	return lb.Open(), nil
}
