// Package config holds the tunables of a simwheel node: the wire identifier,
// the shift schedule, the bus to attach to and the ambient logging and
// telemetry settings. Values come from Default, optionally overlaid by a
// JSON5 file and then by command line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/flynn/json5"

	"github.com/notnil/simwheel/canbus"
	"github.com/notnil/simwheel/gear"
)

// Config is the full node configuration.
type Config struct {
	// FrameID is the standard identifier gear frames are sent and filtered on.
	FrameID uint32
	// Interval is the gear shift period.
	Interval time.Duration
	// TxTimeout bounds every send.
	TxTimeout time.Duration
	// Mode is the controller operating mode.
	Mode canbus.Mode

	// Interface is a SocketCAN interface name such as "vcan0". Empty with an
	// empty Serial selects the in-memory loopback bus.
	Interface string
	// Serial is the device path of an SLCAN adapter.
	Serial string
	// Baud is the serial line speed of the SLCAN adapter.
	Baud int
	// Bitrate is the CAN bitrate programmed into SLCAN adapters and, when
	// non-zero, into SocketCAN interfaces.
	Bitrate uint32

	// MQTT is a broker URL such as mqtt://host:1883/simwheel/. Empty
	// disables telemetry.
	MQTT string

	LogLevel slog.Level
	// TraceBus logs every frame crossing the bus at debug level.
	TraceBus bool
}

// Default timing and serial settings.
const (
	DefaultInterval  = 2 * time.Second
	DefaultTxTimeout = 100 * time.Millisecond
	DefaultBaud      = 115200
)

// Default returns the built-in configuration: loopback mode on the
// in-memory bus, shifting every 2s with a 100ms send bound.
func Default() Config {
	return Config{
		FrameID:   gear.FrameID,
		Interval:  DefaultInterval,
		TxTimeout: DefaultTxTimeout,
		Mode:      canbus.ModeLoopback,
		Baud:      DefaultBaud,
		LogLevel:  slog.LevelInfo,
	}
}

// Validate checks the configuration for values the node cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.FrameID > canbus.StdIDMask {
		errs = append(errs, fmt.Errorf("config: frame id 0x%X exceeds 11 bits", c.FrameID))
	}
	if c.Interval <= 0 {
		errs = append(errs, fmt.Errorf("config: interval must be positive, got %v", c.Interval))
	}
	if c.TxTimeout <= 0 || c.TxTimeout >= c.Interval {
		errs = append(errs, fmt.Errorf("config: tx timeout %v must be positive and shorter than interval %v", c.TxTimeout, c.Interval))
	}
	if c.Mode > canbus.ModeListenOnly {
		errs = append(errs, fmt.Errorf("config: unsupported mode %v", c.Mode))
	}
	if c.Interface != "" && c.Serial != "" {
		errs = append(errs, errors.New("config: interface and serial are mutually exclusive"))
	}
	if c.Serial != "" && c.Baud <= 0 {
		errs = append(errs, fmt.Errorf("config: invalid baud %d", c.Baud))
	}
	return errors.Join(errs...)
}

// file is the on-disk shape. Pointers distinguish absent keys from zero
// values; durations and enums are strings.
type file struct {
	FrameID   *uint32 `json:"frame_id"`
	Interval  *string `json:"interval"`
	TxTimeout *string `json:"tx_timeout"`
	Mode      *string `json:"mode"`
	Interface *string `json:"interface"`
	Serial    *string `json:"serial"`
	Baud      *int    `json:"baud"`
	Bitrate   *uint32 `json:"bitrate"`
	MQTT      *string `json:"mqtt"`
	LogLevel  *string `json:"log_level"`
	TraceBus  *bool   `json:"trace_bus"`
}

// Load reads a JSON5 file over Default. Keys that are absent keep their
// default value.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return Decode(data)
}

// Decode parses JSON5 data over Default.
func Decode(data []byte) (Config, error) {
	var f file
	if err := json5.Unmarshal(data, &f); err != nil {
		return Config{}, fmt.Errorf("config: json5: %w", err)
	}
	c := Default()
	if err := f.apply(&c); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (f *file) apply(c *Config) error {
	if f.FrameID != nil {
		c.FrameID = *f.FrameID
	}
	if f.Interval != nil {
		d, err := time.ParseDuration(*f.Interval)
		if err != nil {
			return fmt.Errorf("config: interval: %w", err)
		}
		c.Interval = d
	}
	if f.TxTimeout != nil {
		d, err := time.ParseDuration(*f.TxTimeout)
		if err != nil {
			return fmt.Errorf("config: tx_timeout: %w", err)
		}
		c.TxTimeout = d
	}
	if f.Mode != nil {
		if err := c.Mode.UnmarshalText([]byte(*f.Mode)); err != nil {
			return fmt.Errorf("config: mode: %w", err)
		}
	}
	if f.Interface != nil {
		c.Interface = *f.Interface
	}
	if f.Serial != nil {
		c.Serial = *f.Serial
	}
	if f.Baud != nil {
		c.Baud = *f.Baud
	}
	if f.Bitrate != nil {
		c.Bitrate = *f.Bitrate
	}
	if f.MQTT != nil {
		c.MQTT = *f.MQTT
	}
	if f.LogLevel != nil {
		if err := c.LogLevel.UnmarshalText([]byte(*f.LogLevel)); err != nil {
			return fmt.Errorf("config: log_level: %w", err)
		}
	}
	if f.TraceBus != nil {
		c.TraceBus = *f.TraceBus
	}
	return nil
}

// bind registers one flag per field, writing into c.
func bind(fs *flag.FlagSet, c *Config, path *string) {
	fs.StringVar(path, "config", "", "JSON5 configuration `file`")
	fs.Func("frame-id", "gear frame identifier (default 0x100)", func(s string) error {
		v, err := strconv.ParseUint(s, 0, 32)
		if err != nil {
			return err
		}
		c.FrameID = uint32(v)
		return nil
	})
	fs.DurationVar(&c.Interval, "interval", c.Interval, "gear shift period")
	fs.DurationVar(&c.TxTimeout, "tx-timeout", c.TxTimeout, "bound on each send")
	fs.TextVar(&c.Mode, "mode", c.Mode, "controller mode: normal, loopback or listen-only")
	fs.StringVar(&c.Interface, "iface", c.Interface, "SocketCAN interface (e.g. vcan0)")
	fs.StringVar(&c.Serial, "serial", c.Serial, "SLCAN serial device (e.g. /dev/ttyACM0)")
	fs.IntVar(&c.Baud, "baud", c.Baud, "SLCAN serial baud rate")
	fs.Func("bitrate", "CAN bitrate in bit/s (0 keeps the adapter setting)", func(s string) error {
		v, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return err
		}
		c.Bitrate = uint32(v)
		return nil
	})
	fs.StringVar(&c.MQTT, "mqtt", c.MQTT, "MQTT broker URL for gear telemetry")
	fs.TextVar(&c.LogLevel, "log-level", c.LogLevel, "log level: debug, info, warn or error")
	fs.BoolVar(&c.TraceBus, "trace-bus", c.TraceBus, "log every bus frame at debug level")
}

// Parse builds a Config from command line arguments. A -config file is loaded
// first and explicitly given flags override it. The result is validated.
func Parse(name string, args []string) (Config, error) {
	var path string
	probe := Default()
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	bind(fs, &probe, &path)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if path == "" {
		return probe, probe.Validate()
	}

	c, err := Load(path)
	if err != nil {
		return Config{}, err
	}
	// Re-parse so that flags land on top of the file.
	fs = flag.NewFlagSet(name, flag.ContinueOnError)
	bind(fs, &c, &path)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return c, c.Validate()
}
