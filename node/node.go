// Package node assembles the gear shift emulator: a Transmitter that cycles
// the gear on a schedule and a Receiver that confirms gear frames heard on
// the bus. The two share nothing but the controller and the wire format.
package node

import (
	"context"
	"log/slog"

	"github.com/notnil/simwheel/canbus"
	"github.com/notnil/simwheel/config"
	"github.com/notnil/simwheel/gear"
)

// Node is one emulated bus participant.
type Node struct {
	ctrl   *canbus.Controller
	codec  gear.Codec
	tx     *Transmitter
	rx     *Receiver
	logger *slog.Logger
}

// New brings ctrl into cfg.Mode, starts it and attaches a Transmitter and a
// Receiver. Bus faults during setup are logged, not returned: the node runs
// regardless and its sends fail until the bus is usable. Only an invalid
// cfg is an error.
func New(ctrl *canbus.Controller, cfg config.Config, logger *slog.Logger) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	codec, err := gear.NewCodec(cfg.FrameID)
	if err != nil {
		return nil, err
	}
	n := &Node{ctrl: ctrl, codec: codec, logger: logger}
	n.setup(cfg.Mode)

	n.rx = NewReceiver(WithRxCodec(codec), WithRxLogger(logger.With("dir", "rx")))
	if _, err := n.rx.Register(ctrl); err != nil {
		logger.Error("failed to add CAN rx filter", "error", err, "code", canbus.ErrorCode(err))
	}
	n.tx = NewTransmitter(ctrl,
		WithInterval(cfg.Interval),
		WithSendTimeout(cfg.TxTimeout),
		WithTxCodec(codec),
		WithTxLogger(logger.With("dir", "tx")),
	)
	return n, nil
}

// setup leaves an unready controller alone. The transmitter reports it.
func (n *Node) setup(mode canbus.Mode) {
	if !n.ctrl.Ready() {
		return
	}
	if err := n.ctrl.SetMode(mode); err != nil {
		n.logger.Error("failed to set CAN mode", "mode", mode.String(), "error", err, "code", canbus.ErrorCode(err))
	}
	if err := n.ctrl.Start(); err != nil {
		n.logger.Error("failed to start CAN controller", "error", err, "code", canbus.ErrorCode(err))
		return
	}
	n.logger.Info("node initialized", "mode", n.ctrl.Mode().String())
}

// Codec returns the gear frame codec the node sends and filters with.
func (n *Node) Codec() gear.Codec { return n.codec }

// Transmitter returns the node's transmitter.
func (n *Node) Transmitter() *Transmitter { return n.tx }

// Receiver returns the node's receiver.
func (n *Node) Receiver() *Receiver { return n.rx }

// Run shifts gears until ctx is done.
func (n *Node) Run(ctx context.Context) error {
	return n.tx.Run(ctx)
}
