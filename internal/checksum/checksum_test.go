package checksum

import "testing"

func TestSum_Stable(t *testing.T) {
	a := Sum([]byte("4000 1.0\n"))
	b := Sum([]byte("4000 1.0\n"))
	if a != b {
		t.Fatalf("digest not stable: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("digest length = %d, want 64", len(a))
	}
}

func TestFloats_ColumnBoundaries(t *testing.T) {
	a := Floats([]float64{1, 2}, []float64{3})
	b := Floats([]float64{1}, []float64{2, 3})
	if a == b {
		t.Error("different column splits should not collide")
	}
	if Floats([]float64{1, 2}) != Floats([]float64{1, 2}) {
		t.Error("digest not stable")
	}
}
