package count

import "testing"

func TestFormatMagnitude(t *testing.T) {
	cases := []struct {
		n    int64
		want string
	}{
		{0, "0"},
		{7, "7"},
		{999, "999"},
		{1000, "1k"},
		{1234, "1.2k"},
		{9999, "10k"},
		{250000, "250k"},
		{1000000, "1M"},
		{2500000, "2.5M"},
	}
	for _, tc := range cases {
		if got := formatMagnitude(tc.n); got != tc.want {
			t.Errorf("formatMagnitude(%d) = %q, want %q", tc.n, got, tc.want)
		}
	}
}

func TestValueMarkers(t *testing.T) {
	if got := Ready(1234).String(); got != "1.2k" {
		t.Errorf("ready: got %q", got)
	}
	if got := Estimated(1234).String(); got != "1.2k~" {
		t.Errorf("estimated: got %q", got)
	}
	if got := Oversized(1234).String(); got != "1.2k+" {
		t.Errorf("oversized: got %q", got)
	}
}

func TestParseRoundTrip(t *testing.T) {
	cases := []struct {
		in         string
		wantN      int64
		wantStatus Status
	}{
		{"42", 42, StatusReady},
		{"1.2k", 1200, StatusReady},
		{"1.2k~", 1200, StatusEstimated},
		{"250k+", 250000, StatusOversized},
		{"2.5M", 2500000, StatusReady},
		{"2M+", 2000000, StatusOversized},
	}
	for _, tc := range cases {
		n, status, err := Parse(tc.in)
		if err != nil {
			t.Errorf("Parse(%q): %v", tc.in, err)
			continue
		}
		if n != tc.wantN || status != tc.wantStatus {
			t.Errorf("Parse(%q) = (%d, %v), want (%d, %v)", tc.in, n, status, tc.wantN, tc.wantStatus)
		}
	}
}

func TestParseRoundTripWithinRounding(t *testing.T) {
	for _, n := range []int64{0, 1, 999, 1234, 56789, 123456, 2500000, 98765432} {
		for _, v := range []Value{Ready(n), Estimated(n), Oversized(n)} {
			got, status, err := Parse(v.String())
			if err != nil {
				t.Fatalf("Parse(%q): %v", v.String(), err)
			}
			if status != v.Status {
				t.Errorf("Parse(%q) status = %v, want %v", v.String(), status, v.Status)
			}
			// Formatting keeps one decimal of the magnitude suffix, so
			// the round-trip error is bounded by 5% of the value.
			diff := got - n
			if diff < 0 {
				diff = -diff
			}
			if tol := n / 20; diff > tol && diff > 50 {
				t.Errorf("Parse(%q) = %d, want ~%d", v.String(), got, n)
			}
		}
	}
}

func TestParsePlaceholderSentinel(t *testing.T) {
	for _, s := range []string{"…", "-", "", "LARGE"} {
		n, status, err := Parse(s)
		if err != nil {
			t.Errorf("Parse(%q): unexpected error %v", s, err)
		}
		if n != Unknown {
			t.Errorf("Parse(%q) = %d, want Unknown sentinel", s, n)
		}
		if status != StatusProcessing {
			t.Errorf("Parse(%q) status = %v, want processing", s, status)
		}
	}
}

func TestParseBadFormat(t *testing.T) {
	if _, _, err := Parse("12x34k"); err == nil {
		t.Error("expected error for garbled numeric string")
	}
}

func TestEstimateFromBytes(t *testing.T) {
	if got := EstimateFromBytes(4000); got != 1000 {
		t.Errorf("EstimateFromBytes(4000) = %d, want 1000", got)
	}
	if got := EstimateFromBytes(0); got != 0 {
		t.Errorf("EstimateFromBytes(0) = %d, want 0", got)
	}
	if got := EstimateFromBytes(-5); got != 0 {
		t.Errorf("EstimateFromBytes(-5) = %d, want 0", got)
	}
}

func TestScaleSample(t *testing.T) {
	// 100 tokens in a 1kB sample of a 10kB file extrapolates to 1000.
	if got := ScaleSample(100, 1024, 10240); got != 1000 {
		t.Errorf("ScaleSample = %d, want 1000", got)
	}
	// Sample covered the whole file: no scaling.
	if got := ScaleSample(100, 1024, 512); got != 100 {
		t.Errorf("ScaleSample (whole file) = %d, want 100", got)
	}
	if got := ScaleSample(100, 0, 512); got != 0 {
		t.Errorf("ScaleSample (empty sample) = %d, want 0", got)
	}
}
