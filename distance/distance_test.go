package distance

import (
	"errors"
	"math"
	"testing"
)

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-4
}

func TestVoltage(t *testing.T) {
	if v := Voltage(512); !near(v, 2.5024) {
		t.Errorf("expected 2.5024, got %.6f", v)
	}
	if v := Voltage(1023); !near(v, 5) {
		t.Errorf("expected 5, got %.6f", v)
	}
	if v := Voltage(0); v != 0 {
		t.Errorf("expected 0, got %f", v)
	}
}

func TestConvert(t *testing.T) {
	d, ok := Convert(512)
	if !ok {
		t.Fatal("512 should be valid")
	}
	want := 15 * math.Pow(512*(5.0/1023.0), -1.1)
	if !near(d, want) {
		t.Errorf("expected %.4f, got %.4f", want, d)
	}
	// roughly 5.47 cm for a half-scale reading
	if d < 5.4 || d > 5.55 {
		t.Errorf("unexpected distance %.4f", d)
	}
}

func TestConvert_DomainFallback(t *testing.T) {
	for _, raw := range []int{0, -1, -1023} {
		d, ok := Convert(raw)
		if ok {
			t.Errorf("raw %d should be outside the curve", raw)
		}
		if d != 0 {
			t.Errorf("raw %d: expected fallback 0, got %f", raw, d)
		}
	}
}

func TestFromVoltage_NonFinite(t *testing.T) {
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if d, ok := FromVoltage(v); ok || d != 0 {
			t.Errorf("FromVoltage(%v) = %v, %v", v, d, ok)
		}
	}
}

func TestParse(t *testing.T) {
	r := Parse("512\r")
	if !r.Valid || r.Raw != 512 {
		t.Fatalf("unexpected reading %+v", r)
	}
	if !near(r.Voltage, 2.5024) {
		t.Errorf("expected voltage 2.5024, got %.4f", r.Voltage)
	}

	r = Parse(" 0 ")
	if r.Valid || r.Distance != 0 || r.Raw != 0 {
		t.Errorf("zero sample should be invalid with distance 0, got %+v", r)
	}
}

func TestParse_Malformed(t *testing.T) {
	for _, line := range []string{"", "abc", "12.5", "1e3", "0x10"} {
		r := Parse(line)
		if r.Valid {
			t.Errorf("%q should be invalid", line)
		}
		if r.Distance != 0 {
			t.Errorf("%q: expected distance 0, got %f", line, r.Distance)
		}
	}
}

func TestParseSample(t *testing.T) {
	if _, err := ParseSample("garbage"); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}

	r, err := ParseSample("0")
	if err != nil {
		t.Fatalf("degenerate sample should not be an error: %v", err)
	}
	if r.Valid {
		t.Error("degenerate sample should be invalid")
	}
}
