//go:build !linux

package main

import (
	"fmt"
	"log/slog"

	"github.com/notnil/simwheel/canbus"
	"github.com/notnil/simwheel/config"
)

func dialSocketCAN(cfg config.Config, _ *slog.Logger) (canbus.Bus, error) {
	return nil, fmt.Errorf("socketcan interface %q: not supported on this platform", cfg.Interface)
}
