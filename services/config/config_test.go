package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"stackshield-go/bus"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	f := c.SerialFormat()
	if f.Baud != 115200 || f.DataBits != 8 || f.StopBits != 1 || f.Parity.String() != "none" {
		t.Fatalf("serial format = %+v", f)
	}
	if c.Serial.ReadTimeoutMs != 500 || c.I2C.BaseAddr != 32 {
		t.Fatal("protocol constants drifted")
	}
}

func TestLoadOverridesAndClamps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tss.toml")
	body := `
[log]
level = "debug"

[i2c]
bus = "/dev/i2c-1"
queue = 1000

[verify]
policy = "collect-all"
extra_settle_ms = 20

[[channel]]
index = 0
sense = [1, 2, 3]
output = 4
serial = "/dev/ttyUSB0"

[[channel]]
index = 1
sense = [5, 6, 7]
output = 8
serial = "/dev/ttyUSB1"

[[channel]]
index = 2
sense = [9, 10, 11]
output = 12
serial = "/dev/ttyUSB2"

[[channel]]
index = 3
sense = [13, 14, 15]
output = 16
serial = "/dev/ttyUSB3"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Log.Level != "debug" || c.I2C.Bus != "/dev/i2c-1" || c.I2C.Queue != 64 {
		t.Fatalf("unexpected: %+v %+v", c.Log, c.I2C)
	}
	if c.Verify.Policy != PolicyCollectAll || c.Verify.ExtraSettleMs != 20 {
		t.Fatalf("verify = %+v", c.Verify)
	}
	if c.I2C.TimeoutMs != 250 {
		t.Fatal("unset keys should keep defaults")
	}
	ch, ok := c.Channel(2)
	if !ok || ch.Serial != "/dev/ttyUSB2" || ch.Output != 12 {
		t.Fatalf("channel 2 = %+v", ch)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	c := Default()
	c.Channels[1].Index = 0
	c.Channels[2].Sense = []int{1, 2}
	c.Channels[3].Output = c.Channels[0].Sense[0]
	c.Verify.Policy = "sometimes"
	c.Serial.Parity = "mark"
	c.MQTT.Enabled = true
	c.MQTT.QoS = 3

	err := c.Validate()
	if err == nil {
		t.Fatal("want error")
	}
	for _, want := range []string{
		"channel 0 listed twice",
		"want 3 sense pins",
		"already used by channel 0",
		`verify.policy "sometimes"`,
		`serial.parity "mark"`,
		"mqtt.qos 3",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("missing %q in:\n%v", want, err)
		}
	}
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]string{"": PolicyStopOnFirst, "collect-all": PolicyCollectAll} {
		got, err := ParsePolicy(in)
		if err != nil || got != want {
			t.Fatalf("ParsePolicy(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParsePolicy("abort"); err == nil {
		t.Fatal("want error")
	}
}

func TestPublishRetainsSections(t *testing.T) {
	b := bus.NewBus(16)
	conn := b.NewConnection("test-config")
	Publish(conn, Default())

	sub := conn.Subscribe(bus.T(configPrefix, "+"))
	got := map[string]any{}
	deadline := time.After(500 * time.Millisecond)
	for len(got) < 6 {
		select {
		case m := <-sub.Channel():
			got[m.Topic[1].(string)] = m.Payload
		case <-deadline:
			t.Fatalf("got %d retained sections", len(got))
		}
	}
	v, ok := got["verify"].(VerifyConf)
	if !ok || v.Policy != PolicyStopOnFirst {
		t.Fatalf("verify section = %#v", got["verify"])
	}
}
