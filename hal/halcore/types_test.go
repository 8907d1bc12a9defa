// hal/halcore/types_test.go

package halcore

import "testing"

func TestPullString(t *testing.T) {
	cases := map[Pull]string{PullNone: "none", PullUp: "up", PullDown: "down", Pull(9): "none"}
	for p, want := range cases {
		if got := p.String(); got != want {
			t.Fatalf("Pull(%d).String() = %q, want %q", int(p), got, want)
		}
	}
}
