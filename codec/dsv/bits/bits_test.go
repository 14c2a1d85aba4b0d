package bits

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPutGetBits(t *testing.T) {
	buf := make([]byte, 64)
	w := NewWriter(buf)
	vals := []struct {
		n int
		v uint32
	}{
		{1, 1}, {3, 5}, {8, 0xAB}, {17, 0x1FFFF}, {32, 0xDEADBEEF},
	}
	for _, tc := range vals {
		if err := w.PutBits(tc.n, tc.v); err != nil {
			t.Fatalf("PutBits(%d, %x): %v", tc.n, tc.v, err)
		}
	}
	r := NewReader(buf)
	for _, tc := range vals {
		got, err := r.GetBits(tc.n)
		if err != nil {
			t.Fatalf("GetBits(%d): %v", tc.n, err)
		}
		want := tc.v & ((1 << uint(tc.n)) - 1)
		if tc.n == 32 {
			want = tc.v
		}
		if got != want {
			t.Errorf("GetBits(%d) = %#x, want %#x", tc.n, got, want)
		}
	}
}

// TestUEGScenarioD is spec.md Concrete Scenario D: UEG(0), UEG(1), UEG(7),
// UEG(100000) must round-trip exactly. A UEG code for v is
// 2*floor(log2(v+1))+1 bits long, giving bit lengths 1, 3, 7, 33.
func TestUEGScenarioD(t *testing.T) {
	vals := []uint32{0, 1, 7, 100000}
	wantLen := []int{1, 3, 7, 33}

	buf := make([]byte, 32)
	w := NewWriter(buf)
	starts := make([]int, len(vals))
	for i, v := range vals {
		starts[i] = w.Pos()
		if err := w.PutUEG(v); err != nil {
			t.Fatalf("PutUEG(%d): %v", v, err)
		}
	}
	ends := w.Pos()
	lens := append(append([]int{}, starts[1:]...), ends)
	for i := range vals {
		got := lens[i] - starts[i]
		if got != wantLen[i] {
			t.Errorf("UEG(%d) bit length = %d, want %d", vals[i], got, wantLen[i])
		}
	}

	r := NewReader(buf)
	for _, v := range vals {
		got, err := r.GetUEG()
		if err != nil {
			t.Fatalf("GetUEG: %v", err)
		}
		if got != v {
			t.Errorf("GetUEG() = %d, want %d", got, v)
		}
	}
}

// TestUEGExhaustive is Testable Property 1 scaled down: every value in a
// representative range of [0, 2^31) round-trips without precision loss.
func TestUEGExhaustive(t *testing.T) {
	buf := make([]byte, 1<<20)
	w := NewWriter(buf)
	var vals []uint32
	for v := uint32(0); v < 5000; v++ {
		vals = append(vals, v)
	}
	for _, v := range []uint32{1<<31 - 1, 1 << 20, 1<<16 + 3} {
		vals = append(vals, v)
	}
	for _, v := range vals {
		if err := w.PutUEG(v); err != nil {
			t.Fatalf("PutUEG(%d): %v", v, err)
		}
	}
	r := NewReader(buf)
	for _, want := range vals {
		got, err := r.GetUEG()
		if err != nil {
			t.Fatalf("GetUEG: %v", err)
		}
		if got != want {
			t.Fatalf("GetUEG() = %d, want %d", got, want)
		}
	}
}

func TestSEGRoundTrip(t *testing.T) {
	buf := make([]byte, 1<<16)
	w := NewWriter(buf)
	vals := []int32{0, 1, -1, 7, -7, 1 << 29, -(1 << 29)}
	for _, v := range vals {
		if err := w.PutSEG(v); err != nil {
			t.Fatalf("PutSEG(%d): %v", v, err)
		}
	}
	r := NewReader(buf)
	for _, want := range vals {
		got, err := r.GetSEG()
		if err != nil {
			t.Fatalf("GetSEG: %v", err)
		}
		if got != want {
			t.Errorf("GetSEG() = %d, want %d", got, want)
		}
	}
}

func TestNEGRoundTrip(t *testing.T) {
	buf := make([]byte, 1<<16)
	w := NewWriter(buf)
	vals := []int32{1, -1, 7, -7, 1 << 29, -(1 << 29)}
	for _, v := range vals {
		if err := w.PutNEG(v); err != nil {
			t.Fatalf("PutNEG(%d): %v", v, err)
		}
	}
	r := NewReader(buf)
	for _, want := range vals {
		got, err := r.GetNEG()
		if err != nil {
			t.Fatalf("GetNEG: %v", err)
		}
		if got != want {
			t.Errorf("GetNEG() = %d, want %d", got, want)
		}
	}
}

func TestConcatRequiresAlignment(t *testing.T) {
	buf := make([]byte, 16)
	w := NewWriter(buf)
	if err := w.PutBit(1); err != nil {
		t.Fatal(err)
	}
	if err := w.Concat([]byte{1, 2, 3}); err == nil {
		t.Error("Concat on unaligned writer should fail")
	}
	w.Align()
	if err := w.Concat([]byte{1, 2, 3}); err != nil {
		t.Errorf("Concat after align: %v", err)
	}
}

func TestAlignIsIdempotent(t *testing.T) {
	buf := make([]byte, 8)
	w := NewWriter(buf)
	w.Align()
	if !cmp.Equal(w.Pos(), 0) {
		t.Errorf("Align on empty writer moved position to %d", w.Pos())
	}
	_ = w.PutBit(1)
	w.Align()
	if w.Pos() != 8 {
		t.Errorf("Align after 1 bit = %d, want 8", w.Pos())
	}
}

// TestReaderSub checks that Sub carves out an independently-addressed
// sub-reader starting at byte 0 of its own view, and that the parent
// reader ends up positioned right after it.
func TestReaderSub(t *testing.T) {
	buf := make([]byte, 32)
	w := NewWriter(buf)
	if err := w.PutBits(8, 0xAA); err != nil {
		t.Fatal(err)
	}
	if err := w.PutUEG(7); err != nil {
		t.Fatal(err)
	}
	w.Align()
	tailStart := w.BytePos()
	if err := w.PutBits(8, 0xCC); err != nil {
		t.Fatal(err)
	}

	r := NewReader(buf)
	if _, err := r.GetBits(8); err != nil {
		t.Fatal(err)
	}
	r.Align()
	sub, err := r.Sub(tailStart - r.BytePos())
	if err != nil {
		t.Fatalf("Sub: %v", err)
	}
	got, err := sub.GetUEG()
	if err != nil {
		t.Fatalf("sub.GetUEG: %v", err)
	}
	if got != 7 {
		t.Errorf("sub.GetUEG() = %d, want 7", got)
	}
	if r.BytePos() != tailStart {
		t.Errorf("parent reader position = %d, want %d", r.BytePos(), tailStart)
	}
	v, err := r.GetBits(8)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0xCC {
		t.Errorf("parent read after Sub = %#x, want 0xcc", v)
	}
}

func TestReaderSubUnalignedFails(t *testing.T) {
	buf := make([]byte, 8)
	r := NewReader(buf)
	if _, err := r.GetBit(); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Sub(1); err == nil {
		t.Error("Sub on an unaligned reader should fail")
	}
}

func TestReaderSubOverrunFails(t *testing.T) {
	buf := make([]byte, 4)
	r := NewReader(buf)
	if _, err := r.Sub(5); err == nil {
		t.Error("Sub past the end of the buffer should fail")
	}
}
