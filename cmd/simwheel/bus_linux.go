//go:build linux

package main

import (
	"log/slog"

	"github.com/notnil/simwheel/canbus"
	"github.com/notnil/simwheel/config"
)

func dialSocketCAN(cfg config.Config, logger *slog.Logger) (canbus.Bus, error) {
	if cfg.Bitrate != 0 {
		err := canbus.ConfigureLinuxCANInterface(cfg.Interface, canbus.LinuxCANInterfaceOptions{Bitrate: cfg.Bitrate})
		if err != nil {
			// vcan has no bitrate. Carry on with the link as it is.
			logger.Warn("CAN interface configuration failed", "iface", cfg.Interface, "error", err)
		}
	}
	return canbus.DialSocketCAN(cfg.Interface)
}
