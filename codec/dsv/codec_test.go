package dsv

import (
	"testing"

	"github.com/LMP88959/Digital-Subband-Video-1/codec/dsv/config"
	"github.com/LMP88959/Digital-Subband-Video-1/codec/dsv/frame"
)

// gradientFrame builds a planar frame whose luma varies with position and
// the frame index, so successive frames carry genuine (if synthetic)
// motion/residual content instead of flat blocks that degenerate to the
// all-stable, all-zero-residual path.
func gradientFrame(md Metadata, idx int) *frame.Frame {
	hs, vs := md.Subsamp.HShift(), md.Subsamp.VShift()
	cw, ch := chromaDim(md.Width, hs), chromaDim(md.Height, vs)
	data := make([]byte, md.Width*md.Height+2*cw*ch)
	for y := 0; y < md.Height; y++ {
		for x := 0; x < md.Width; x++ {
			data[y*md.Width+x] = byte((x + y + idx*5) % 256)
		}
	}
	off := md.Width * md.Height
	for i := 0; i < cw*ch; i++ {
		data[off+i] = byte((i + idx*3) % 256)
		data[off+cw*ch+i] = byte((i*2 + idx*7) % 256)
	}
	return frame.LoadPlanar(md.Subsamp, data, md.Width, md.Height)
}

func smallTestConfig() config.Encoder {
	cfg := config.Default(Metadata{
		Width: 48, Height: 32, Subsamp: frame.Subsamp420,
		FPSNum: 25, FPSDen: 1, AspectNum: 1, AspectDen: 1,
	})
	cfg.GOP = 3
	return cfg
}

// decodeAll feeds a flat list of already-concatenated packets through a
// fresh Decoder and returns every non-nil frame it produced. Any Decode
// error fails the test immediately.
func decodeAll(t *testing.T, pkts [][]byte) []*frame.Frame {
	t.Helper()
	dec := NewDecoder()
	var out []*frame.Frame
	for i, pkt := range pkts {
		fr, err := dec.Decode(pkt)
		if err != nil {
			t.Fatalf("packet %d: Decode: %v", i, err)
		}
		if fr != nil {
			out = append(out, fr)
		}
	}
	return out
}

// TestEncodeDecodeRoundTrip pushes a short GOP (forcing at least one I
// frame and one P frame) through Encoder then Decoder and checks that
// every picture packet decodes to a frame of the expected dimensions
// without error (Testable Property 7 / Scenarios A-C).
func TestEncodeDecodeRoundTrip(t *testing.T) {
	cfg := smallTestConfig()
	enc, err := NewEncoder(cfg)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}

	var pkts [][]byte
	const nframes = 5
	for i := 0; i < nframes; i++ {
		out, err := enc.PushFrame(gradientFrame(cfg.Metadata, i))
		if err != nil {
			t.Fatalf("PushFrame(%d): %v", i, err)
		}
		pkts = append(pkts, out...)
	}
	pkts = append(pkts, enc.EndOfStream())

	frames := decodeAll(t, pkts)
	if len(frames) != nframes {
		t.Fatalf("decoded %d frames, want %d", len(frames), nframes)
	}
	for i, f := range frames {
		if f.Width != cfg.Metadata.Width || f.Height != cfg.Metadata.Height {
			t.Errorf("frame %d dims = %dx%d, want %dx%d", i, f.Width, f.Height, cfg.Metadata.Width, cfg.Metadata.Height)
		}
		if f.Border {
			t.Errorf("frame %d returned with a border, want a plain display frame", i)
		}
	}
}

// TestEncodeDeterminism is Testable Property 8: encoding the same input
// frames twice from fresh Encoder instances with identical configuration
// produces byte-identical packet chains.
func TestEncodeDeterminism(t *testing.T) {
	cfg := smallTestConfig()

	run := func() [][]byte {
		enc, err := NewEncoder(cfg)
		if err != nil {
			t.Fatalf("NewEncoder: %v", err)
		}
		var pkts [][]byte
		for i := 0; i < 4; i++ {
			out, err := enc.PushFrame(gradientFrame(cfg.Metadata, i))
			if err != nil {
				t.Fatalf("PushFrame(%d): %v", i, err)
			}
			pkts = append(pkts, out...)
		}
		return append(pkts, enc.EndOfStream())
	}

	a, b := run(), run()
	if len(a) != len(b) {
		t.Fatalf("packet counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if len(a[i]) != len(b[i]) {
			t.Fatalf("packet %d length differs: %d vs %d", i, len(a[i]), len(b[i]))
		}
		for j := range a[i] {
			if a[i][j] != b[i][j] {
				t.Fatalf("packet %d first differs at byte %d", i, j)
			}
		}
	}
}

// TestDecodeAllIntraStream covers config.GOPIntra (every frame forced
// intra, no reference ever stored), exercising the has_ref=false path
// exclusively.
func TestDecodeAllIntraStream(t *testing.T) {
	cfg := smallTestConfig()
	cfg.GOP = config.GOPIntra
	enc, err := NewEncoder(cfg)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}

	var pkts [][]byte
	for i := 0; i < 3; i++ {
		out, err := enc.PushFrame(gradientFrame(cfg.Metadata, i))
		if err != nil {
			t.Fatalf("PushFrame(%d): %v", i, err)
		}
		pkts = append(pkts, out...)
		h, _ := getHeader(out[len(out)-1])
		if hasRef(h.ptype) {
			t.Errorf("frame %d: has_ref set under GOPIntra", i)
		}
	}
	pkts = append(pkts, enc.EndOfStream())

	frames := decodeAll(t, pkts)
	if len(frames) != 3 {
		t.Fatalf("decoded %d frames, want 3", len(frames))
	}
}

// TestDecodeMissingReferenceIsSkippedNotFatal is §7.2: a P-frame packet
// decoded without ever having seen a prior reference returns
// ErrNoReference but leaves the Decoder usable for subsequent packets.
func TestDecodeMissingReferenceIsSkippedNotFatal(t *testing.T) {
	cfg := smallTestConfig()
	cfg.DetectSceneChanges = false // keep frame 1 a P-frame deterministically
	enc, err := NewEncoder(cfg)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	var pkts [][]byte
	for i := 0; i < 2; i++ {
		out, err := enc.PushFrame(gradientFrame(cfg.Metadata, i))
		if err != nil {
			t.Fatalf("PushFrame(%d): %v", i, err)
		}
		pkts = append(pkts, out...)
	}

	dec := NewDecoder()
	// Skip straight to the P-frame packet (the last one pushed), never
	// handing the decoder the preceding I-frame.
	if _, err := dec.Decode(pkts[0]); err != nil {
		t.Fatalf("Decode(metadata): %v", err)
	}

	pFrame := pkts[len(pkts)-1]
	h, err := getHeader(pFrame)
	if err != nil {
		t.Fatalf("getHeader: %v", err)
	}
	if !hasRef(h.ptype) {
		t.Fatal("test setup expected the final pushed packet to be a P-frame")
	}

	if _, err := dec.Decode(pFrame); err != ErrNoReference {
		t.Fatalf("Decode(P-frame with no stored ref) = %v, want ErrNoReference", err)
	}
	if dec.ref != nil {
		t.Error("decoder's reference slot should remain untouched after a skipped frame")
	}
}

