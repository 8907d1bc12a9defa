package config

import (
	"errors"
	"fmt"

	"github.com/BurntSushi/toml"

	"stackshield-go/bus"
	"stackshield-go/types"
	"stackshield-go/x/mathx"
)

const (
	DefaultPath  = "tss.toml"
	configPrefix = "config"

	PolicyStopOnFirst = "stop-on-first"
	PolicyCollectAll  = "collect-all"

	channels  = 4
	positions = 8
)

// Config is the station configuration.
type Config struct {
	Log      LogConf       `toml:"log"`
	I2C      I2CConf       `toml:"i2c"`
	Serial   SerialConf    `toml:"serial"`
	Channels []ChannelConf `toml:"channel"`
	Verify   VerifyConf    `toml:"verify"`
	MQTT     MQTTConf      `toml:"mqtt"`
	History  HistoryConf   `toml:"history"`
}

type LogConf struct {
	Level string `toml:"level"` // logrus level name
}

type I2CConf struct {
	Bus       string `toml:"bus"` // periph i2creg name, "" = first bus
	BaseAddr  int    `toml:"base_address"`
	TimeoutMs int    `toml:"timeout_ms"`
	Queue     int    `toml:"queue"`
}

type SerialConf struct {
	Baud          int    `toml:"baud"`
	DataBits      int    `toml:"data_bits"`
	StopBits      int    `toml:"stop_bits"`
	Parity        string `toml:"parity"`
	ReadTimeoutMs int    `toml:"read_timeout_ms"`
}

// ChannelConf wires one host test channel.
type ChannelConf struct {
	Index  int    `toml:"index"`
	Sense  []int  `toml:"sense"`  // three GPIO numbers, pin 0..2
	Output int    `toml:"output"` // host output GPIO
	Serial string `toml:"serial"` // UART device
}

type VerifyConf struct {
	Policy        string `toml:"policy"`
	ExtraSettleMs int    `toml:"extra_settle_ms"`
}

type MQTTConf struct {
	Enabled  bool   `toml:"enabled"`
	Broker   string `toml:"broker"`
	ClientID string `toml:"client_id"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Prefix   string `toml:"prefix"`
	QoS      byte   `toml:"qos"`
}

type HistoryConf struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Default is the Raspberry Pi station wiring.
func Default() *Config {
	return &Config{
		Log: LogConf{Level: "warning"},
		I2C: I2CConf{BaseAddr: 32, TimeoutMs: 250, Queue: 8},
		Serial: SerialConf{
			Baud: 115200, DataBits: 8, StopBits: 1, Parity: "none",
			ReadTimeoutMs: 500,
		},
		Channels: []ChannelConf{
			{Index: 0, Sense: []int{16, 17, 18}, Output: 19, Serial: "/dev/ttyAMA0"},
			{Index: 1, Sense: []int{20, 21, 22}, Output: 23, Serial: "/dev/ttyAMA1"},
			{Index: 2, Sense: []int{24, 25, 26}, Output: 27, Serial: "/dev/ttyAMA2"},
			{Index: 3, Sense: []int{6, 7, 10}, Output: 11, Serial: "/dev/ttyAMA3"},
		},
		Verify:  VerifyConf{Policy: PolicyStopOnFirst},
		MQTT:    MQTTConf{Broker: "tcp://localhost:1883", ClientID: "tss", Prefix: "stackshield", QoS: 1},
		History: HistoryConf{Path: "tss-history.db"},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	cfg.I2C.Queue = mathx.Clamp(cfg.I2C.Queue, 1, 64)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks ranges and the channel wiring.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, a ...any) { errs = append(errs, fmt.Errorf(format, a...)) }

	if !mathx.Between(c.I2C.BaseAddr, 0x08, 0x77-(positions-1)) {
		bad("i2c.base_address %#x leaves no room for %d positions", c.I2C.BaseAddr, positions)
	}
	if c.I2C.TimeoutMs <= 0 {
		bad("i2c.timeout_ms must be positive")
	}
	if c.Serial.Baud <= 0 {
		bad("serial.baud must be positive")
	}
	if !mathx.Between(c.Serial.DataBits, 5, 8) {
		bad("serial.data_bits %d not in 5..8", c.Serial.DataBits)
	}
	if !mathx.Between(c.Serial.StopBits, 1, 2) {
		bad("serial.stop_bits %d not in 1..2", c.Serial.StopBits)
	}
	if types.ParseParity(c.Serial.Parity).String() != c.Serial.Parity {
		bad("serial.parity %q", c.Serial.Parity)
	}
	if c.Serial.ReadTimeoutMs <= 0 {
		bad("serial.read_timeout_ms must be positive")
	}

	if len(c.Channels) != channels {
		bad("want %d [[channel]] entries, got %d", channels, len(c.Channels))
	}
	seen := map[int]bool{}
	pins := map[int]int{}
	usePin := func(ch, n int) {
		if prev, ok := pins[n]; ok {
			bad("channel %d: gpio %d already used by channel %d", ch, n, prev)
		}
		pins[n] = ch
	}
	for _, ch := range c.Channels {
		if !mathx.Between(ch.Index, 0, channels-1) {
			bad("channel index %d out of range", ch.Index)
			continue
		}
		if seen[ch.Index] {
			bad("channel %d listed twice", ch.Index)
		}
		seen[ch.Index] = true
		if len(ch.Sense) != types.SensePins {
			bad("channel %d: want %d sense pins, got %d", ch.Index, types.SensePins, len(ch.Sense))
		}
		for _, n := range ch.Sense {
			usePin(ch.Index, n)
		}
		usePin(ch.Index, ch.Output)
		if ch.Serial == "" {
			bad("channel %d: serial device missing", ch.Index)
		}
	}

	if _, err := ParsePolicy(c.Verify.Policy); err != nil {
		errs = append(errs, err)
	}
	if c.Verify.ExtraSettleMs < 0 {
		bad("verify.extra_settle_ms must be >= 0")
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			bad("mqtt.broker missing")
		}
		if c.MQTT.QoS > 2 {
			bad("mqtt.qos %d not in 0..2", c.MQTT.QoS)
		}
	}
	if c.History.Enabled && c.History.Path == "" {
		bad("history.path missing")
	}
	return errors.Join(errs...)
}

// ParsePolicy validates a sweep policy name; "" means stop-on-first.
func ParsePolicy(s string) (string, error) {
	switch s {
	case "", PolicyStopOnFirst:
		return PolicyStopOnFirst, nil
	case PolicyCollectAll:
		return s, nil
	}
	return "", fmt.Errorf("verify.policy %q: want %s or %s", s, PolicyStopOnFirst, PolicyCollectAll)
}

// Channel returns the wiring for index.
func (c *Config) Channel(index int) (ChannelConf, bool) {
	for _, ch := range c.Channels {
		if ch.Index == index {
			return ch, true
		}
	}
	return ChannelConf{}, false
}

// SerialFormat converts the [serial] section.
func (c *Config) SerialFormat() types.SerialFormat {
	return types.SerialFormat{
		Baud:     uint32(c.Serial.Baud),
		DataBits: uint8(c.Serial.DataBits),
		StopBits: uint8(c.Serial.StopBits),
		Parity:   types.ParseParity(c.Serial.Parity),
	}
}

// Publish retains each section under config/<section> so other services
// (the MQTT bridge, status readers) can pick the running configuration up.
func Publish(conn *bus.Connection, c *Config) {
	sections := map[string]any{
		"log":     c.Log,
		"i2c":     c.I2C,
		"serial":  c.Serial,
		"channel": c.Channels,
		"verify":  c.Verify,
		"history": c.History,
	}
	for k, v := range sections {
		conn.Publish(conn.NewMessage(bus.T(configPrefix, k), v, true))
	}
}
