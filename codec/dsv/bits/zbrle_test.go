package bits

import "testing"

func TestZBRLERoundTrip(t *testing.T) {
	seqs := [][]bool{
		{},
		{true},
		{false},
		{false, false, false, true},
		{true, true, true, true},
		{false, false, true, false, false, false, true, true, false},
	}
	for _, seq := range seqs {
		buf := make([]byte, 256)
		w := NewRLEWriter(NewWriter(buf))
		for _, b := range seq {
			if err := w.Put(b); err != nil {
				t.Fatalf("Put(%v): %v", b, err)
			}
		}
		if _, err := w.End(); err != nil {
			t.Fatalf("End: %v", err)
		}

		r := NewRLEReader(NewReader(buf))
		got := make([]bool, len(seq))
		for i := range seq {
			b, err := r.Get()
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			got[i] = b
		}
		if err := r.End(); err != nil {
			t.Fatalf("End: %v", err)
		}
		for i := range seq {
			if got[i] != seq[i] {
				t.Errorf("seq %v: bit %d = %v, want %v", seq, i, got[i], seq[i])
			}
		}
	}
}
