package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"stackshield-go/errcode"
	"stackshield-go/hal/sim"
	"stackshield-go/services/report"
	"stackshield-go/services/shield"
)

func newStation() *sim.Station {
	return sim.NewStation(shield.BaseAddr, simDecoder, sim.SequentialWiring())
}

// runSim executes one tss invocation against st and returns exit code and stdout.
func runSim(t *testing.T, st *sim.Station, args ...string) (int, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	a := newApp(&out, &errOut)
	a.station = st
	a.clock = sim.NewClock()
	code := a.run(append([]string{"--sim"}, args...))
	if testing.Verbose() && errOut.Len() > 0 {
		t.Log(errOut.String())
	}
	return code, out.String()
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tss.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestConnectMakesOneRoute(t *testing.T) {
	st := newStation()
	code, out := runSim(t, st, "3", "1", "2")
	if code != exitOK {
		t.Fatalf("exit %d: %s", code, out)
	}
	if !strings.Contains(out, "connected test channel 1 to target 2") {
		t.Fatalf("output %q", out)
	}
	routes := st.Routes(3)
	if len(routes) != 1 || routes[0] != (sim.Route{Channel: 1, Target: 2}) {
		t.Fatalf("routes %v", routes)
	}

	// A second connect replaces the first.
	if code, _ := runSim(t, st, "3", "0", "0"); code != exitOK {
		t.Fatalf("exit %d", code)
	}
	routes = st.Routes(3)
	if len(routes) != 1 || routes[0] != (sim.Route{Channel: 0, Target: 0}) {
		t.Fatalf("routes after reconnect %v", routes)
	}
}

func TestDisconnectOpensShield(t *testing.T) {
	st := newStation()
	runSim(t, st, "2", "3", "3")
	code, out := runSim(t, st, "2", "--disconnect")
	if code != exitOK || !strings.Contains(out, "disconnected all connections on TSS 2") {
		t.Fatalf("exit %d: %q", code, out)
	}
	if r := st.Routes(2); len(r) != 0 {
		t.Fatalf("routes %v", r)
	}
}

func TestDisconnectSkipsPresenceCheck(t *testing.T) {
	st := newStation()
	st.Seat(6, false)
	if code, _ := runSim(t, st, "6", "-d"); code != exitOK {
		t.Fatalf("exit %d", code)
	}
}

func TestNoDaughterboardExitsTwo(t *testing.T) {
	st := newStation()
	st.Seat(5, false)
	if code, _ := runSim(t, st, "5", "0", "0"); code != exitNoDaughterboard {
		t.Fatalf("exit %d, want %d", code, exitNoDaughterboard)
	}
	if r := st.Routes(5); len(r) != 0 {
		t.Fatalf("routes %v", r)
	}
}

func TestOutOfRangeTouchesNothing(t *testing.T) {
	st := newStation()
	for _, args := range [][]string{{"8", "0", "0"}, {"0", "4", "0"}, {"0", "0", "4"}, {"x"}} {
		if code, _ := runSim(t, st, args...); code != exitFailure {
			t.Fatalf("%v: exit %d", args, code)
		}
	}
	if n := st.I2C.Txs(); n != 0 {
		t.Fatalf("%d i2c transactions", n)
	}
}

func TestStatusReadsEarlierRun(t *testing.T) {
	st := newStation()
	runSim(t, st, "3", "1", "2")
	code, out := runSim(t, st, "status")
	if code != exitOK {
		t.Fatalf("exit %d", code)
	}
	for _, want := range []string{
		"tss 3 @0x23: daughterboard present, outputs 0x0042, routes ch1->t2",
		"tss 0 @0x20: not initialised",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestVerifyAllStoresReportAndHistory(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "history.db")
	cfg := writeConfig(t, "[history]\nenabled = true\npath = \""+filepath.ToSlash(db)+"\"\n")
	repPath := filepath.Join(dir, "sweep.yaml")

	st := newStation()
	for p := 0; p < sim.Positions; p++ {
		st.Seat(p, p == 1 || p == 4)
	}
	code, out := runSim(t, st, "--config", cfg, "verify", "--all", "--report", repPath)
	if code != exitOK {
		t.Fatalf("exit %d: %s", code, out)
	}

	f, err := os.Open(repPath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	reps, err := report.Read(f)
	if err != nil {
		t.Fatal(err)
	}
	if len(reps) != 2 || reps[0].Position != 1 || reps[1].Position != 4 {
		t.Fatalf("reports %+v", reps)
	}
	for _, r := range reps {
		if !r.OK() || r.Passed != shield.Channels*shield.Targets {
			t.Fatalf("tss %d: %+v", r.Position, r)
		}
	}
	for p := 0; p < sim.Positions; p++ {
		if r := st.Routes(p); len(r) != 0 {
			t.Fatalf("tss %d left routed: %v", p, r)
		}
	}

	var hist, errOut bytes.Buffer
	if code := newApp(&hist, &errOut).run([]string{"--config", cfg, "history", "--tss", "4"}); code != exitOK {
		t.Fatalf("history exit %d: %s", code, errOut.String())
	}
	if !strings.Contains(hist.String(), "tss 4: PASS") || strings.Contains(hist.String(), "tss 1:") {
		t.Fatalf("history output:\n%s", hist.String())
	}
}

func TestVerifyFailureExitsOne(t *testing.T) {
	st := newStation()
	st.Target(0, 2).SetMute(true)
	code, out := runSim(t, st, "verify", "0", "--policy", "collect-all")
	if code != exitFailure {
		t.Fatalf("exit %d", code)
	}
	if !strings.Contains(out, "tss 0: FAIL (12 passed, 4 failed, policy collect-all)") {
		t.Fatalf("output:\n%s", out)
	}
}

func TestVerifyWithoutBoardsExitsTwo(t *testing.T) {
	st := newStation()
	for p := 0; p < sim.Positions; p++ {
		st.Seat(p, false)
	}
	if code, _ := runSim(t, st, "verify", "--all"); code != exitNoDaughterboard {
		t.Fatalf("exit %d", code)
	}
	if code, _ := runSim(t, st, "verify", "7"); code != exitNoDaughterboard {
		t.Fatalf("exit %d", code)
	}
}

func TestVerifyRejectsBadPolicy(t *testing.T) {
	st := newStation()
	if code, _ := runSim(t, st, "verify", "--policy", "sometimes"); code != exitFailure {
		t.Fatalf("exit %d", code)
	}
	if n := st.I2C.Txs(); n != 0 {
		t.Fatalf("%d i2c transactions", n)
	}
}

func TestExitCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, exitOK},
		{errcode.New(errcode.NoDaughterboard, "x", "y"), exitNoDaughterboard},
		{errcode.RouteBusy, exitFailure},
	}
	for _, c := range cases {
		if got := exitCode(c.err); got != c.want {
			t.Errorf("exitCode(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}
