package util

import "testing"

func TestPrettyInt(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{0, "0"},
		{7, "7"},
		{999, "999"},
		{1000, "1,000"},
		{1234567, "1,234,567"},
		{-1234567, "-1,234,567"},
	}
	for _, c := range cases {
		if got := PrettyInt(c.in); got != c.want {
			t.Errorf("PrettyInt(%d) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestPrettyFloat(t *testing.T) {
	cases := []struct {
		in       float64
		want     string
		wantSame bool
	}{
		{50, "50", true},
		{0.5, "0.5", true},
		{1.23, "1", false},
		{0.07, "0.07", true},
		{96.66, "100", false},
	}
	for _, c := range cases {
		got, same := PrettyFloat(c.in)
		if got != c.want || same != c.wantSame {
			t.Errorf("PrettyFloat(%v) = %q, %v; want %q, %v", c.in, got, same, c.want, c.wantSame)
		}
	}
}

func TestCeilHundredths(t *testing.T) {
	if got := CeilHundredths(1.2301); got != 1.24 {
		t.Errorf("CeilHundredths(1.2301) = %v, want 1.24", got)
	}
	if got := CeilHundredths(2.5); got != 2.5 {
		t.Errorf("CeilHundredths(2.5) = %v, want 2.5", got)
	}
}
