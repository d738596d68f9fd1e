package redis

import "testing"

func TestVectorCodecRoundTrip(t *testing.T) {
	in := []float32{0, 1, -1, 0.5, 3.14159, -2.71828, 1e-7, 1e7}

	out := BytesToVector(VectorToBytes(in))
	if len(out) != len(in) {
		t.Fatalf("expected %d values, got %d", len(in), len(out))
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("value %d: expected %g, got %g", i, in[i], out[i])
		}
	}
}

func TestVectorToBytes_Length(t *testing.T) {
	if got := len(VectorToBytes(make([]float32, 1536))); got != 1536*4 {
		t.Errorf("expected %d bytes, got %d", 1536*4, got)
	}
	if got := len(VectorToBytes(nil)); got != 0 {
		t.Errorf("expected empty payload for nil vector, got %d bytes", got)
	}
}

func TestBytesToVector_RejectsMisalignedInput(t *testing.T) {
	if v := BytesToVector("abc"); v != nil {
		t.Errorf("expected nil for misaligned input, got %v", v)
	}
}
