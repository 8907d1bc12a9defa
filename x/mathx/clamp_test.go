package mathx

import "testing"

func TestClamp(t *testing.T) {
	cases := []struct{ v, lo, hi, want int }{
		{0, 1, 64, 1},
		{8, 1, 64, 8},
		{99, 1, 64, 64},
		{5, 10, 0, 5},
	}
	for _, c := range cases {
		if got := Clamp(c.v, c.lo, c.hi); got != c.want {
			t.Errorf("Clamp(%d, %d, %d) = %d, want %d", c.v, c.lo, c.hi, got, c.want)
		}
	}
}

func TestBetween(t *testing.T) {
	if !Between(0x20, 0x08, 0x70) || Between(0x78, 0x08, 0x70) || !Between(3, 5, 1) {
		t.Fatal("Between")
	}
}
