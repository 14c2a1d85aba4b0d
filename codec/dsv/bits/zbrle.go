package bits

import "github.com/pkg/errors"

// ErrEarlyTermination is returned by RLEReader.End when more than one
// logical bit remained buffered in the run, indicating the encoded stream
// was truncated relative to what the caller expected to read.
var ErrEarlyTermination = errors.New("bits: zbrle run ended early")

// RLEWriter implements Zero-Bit Run-Length Encoding (ZBRLE): a boolean
// stream where runs of consecutive false ("zero") bits are coded as a
// single UEG run length, terminated by a true bit.
type RLEWriter struct {
	w  *Writer
	nz uint32
}

// NewRLEWriter wraps w for ZBRLE encoding.
func NewRLEWriter(w *Writer) *RLEWriter {
	return &RLEWriter{w: w}
}

// Put encodes one boolean.
func (rl *RLEWriter) Put(b bool) error {
	if b {
		if err := rl.w.PutUEG(rl.nz); err != nil {
			return err
		}
		rl.nz = 0
		return nil
	}
	rl.nz++
	return nil
}

// End flushes the trailing run and byte-aligns the underlying writer,
// returning the byte offset the writer now sits at.
func (rl *RLEWriter) End() (int, error) {
	if err := rl.w.PutUEG(rl.nz); err != nil {
		return 0, err
	}
	rl.nz = 0
	rl.w.Align()
	return rl.w.BytePos(), nil
}

// RLEReader mirrors RLEWriter.
type RLEReader struct {
	r  *Reader
	nz uint32
}

// NewRLEReader wraps r for ZBRLE decoding.
func NewRLEReader(r *Reader) *RLEReader {
	return &RLEReader{r: r}
}

// Get decodes the next boolean.
func (rl *RLEReader) Get() (bool, error) {
	if rl.nz == 0 {
		v, err := rl.r.GetUEG()
		if err != nil {
			return false, err
		}
		rl.nz = v
		return rl.nz == 0, nil
	}
	rl.nz--
	return rl.nz == 0, nil
}

// End reports early termination if more than one logical bit remains
// buffered in the current run, mirroring dsv_bs_end_rle(rle, read=1).
func (rl *RLEReader) End() error {
	if rl.nz > 1 {
		return errors.Wrapf(ErrEarlyTermination, "%d remaining in run", rl.nz)
	}
	return nil
}
