package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/notnil/simwheel/canbus"
)

func TestDefault(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	require.Equal(t, uint32(0x100), c.FrameID)
	require.Equal(t, 2*time.Second, c.Interval)
	require.Equal(t, 100*time.Millisecond, c.TxTimeout)
	require.Equal(t, canbus.ModeLoopback, c.Mode)
	require.Equal(t, slog.LevelInfo, c.LogLevel)
}

const sample = `{
	// shift faster than the firmware default
	interval: "500ms",
	tx_timeout: "50ms",
	mode: "normal",
	frame_id: 288,
	interface: "vcan0",
	log_level: "debug",
	trace_bus: true
}`

func TestDecode(t *testing.T) {
	c, err := Decode([]byte(sample))
	require.NoError(t, err)
	require.Equal(t, 500*time.Millisecond, c.Interval)
	require.Equal(t, 50*time.Millisecond, c.TxTimeout)
	require.Equal(t, canbus.ModeNormal, c.Mode)
	require.Equal(t, uint32(0x120), c.FrameID)
	require.Equal(t, "vcan0", c.Interface)
	require.Equal(t, slog.LevelDebug, c.LogLevel)
	require.True(t, c.TraceBus)
	require.Equal(t, DefaultBaud, c.Baud, "absent keys keep defaults")
	require.NoError(t, c.Validate())
}

func TestDecode_Errors(t *testing.T) {
	for name, doc := range map[string]string{
		"syntax":   `{interval: `,
		"duration": `{interval: "soon"}`,
		"timeout":  `{tx_timeout: "1 minute"}`,
		"mode":     `{mode: "turbo"}`,
		"level":    `{log_level: "loud"}`,
	} {
		_, err := Decode([]byte(doc))
		require.Error(t, err, name)
	}
}

func TestValidate(t *testing.T) {
	bad := func(mut func(*Config)) error {
		c := Default()
		mut(&c)
		return c.Validate()
	}
	require.Error(t, bad(func(c *Config) { c.FrameID = 0x800 }))
	require.Error(t, bad(func(c *Config) { c.Interval = 0 }))
	require.Error(t, bad(func(c *Config) { c.TxTimeout = c.Interval }))
	require.Error(t, bad(func(c *Config) { c.Mode = canbus.Mode(5) }))
	require.Error(t, bad(func(c *Config) { c.Interface, c.Serial = "vcan0", "/dev/ttyACM0" }))
	require.Error(t, bad(func(c *Config) { c.Serial, c.Baud = "/dev/ttyACM0", 0 }))
}

func TestParse_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "simwheel.json5")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	c, err := Parse("simwheel", []string{"-config", path, "-interval", "1s", "-frame-id", "0x101", "-mode", "loopback"})
	require.NoError(t, err)
	require.Equal(t, time.Second, c.Interval, "flag wins over file")
	require.Equal(t, 50*time.Millisecond, c.TxTimeout, "file wins over default")
	require.Equal(t, uint32(0x101), c.FrameID)
	require.Equal(t, canbus.ModeLoopback, c.Mode)
	require.Equal(t, "vcan0", c.Interface)
}

func TestParse_NoFile(t *testing.T) {
	c, err := Parse("simwheel", []string{"-serial", "/dev/ttyUSB0", "-bitrate", "250000", "-mqtt", "mqtt://localhost:1883/wheel/"})
	require.NoError(t, err)
	require.Equal(t, "/dev/ttyUSB0", c.Serial)
	require.Equal(t, uint32(250000), c.Bitrate)
	require.Equal(t, "mqtt://localhost:1883/wheel/", c.MQTT)

	_, err = Parse("simwheel", []string{"-tx-timeout", "5s"})
	require.Error(t, err, "timeout longer than interval")
	_, err = Parse("simwheel", []string{"-config", filepath.Join(t.TempDir(), "missing.json5")})
	require.Error(t, err)
	_, err = Parse("simwheel", []string{"-frame-id", "nope"})
	require.Error(t, err)
}
