/*
NAME
  dsvtool - encode raw planar video to a DSV-1 packet stream, or decode
  one back to raw planar frames.

AUTHOR
  Digital Subband Video contributors
*/

// Package dsvtool is a minimal command-line front end for codec/dsv. It
// reads/writes raw planar YUV on one side and a DSV-1 packet chain on
// the other; it does no container demuxing or device I/O of its own.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ausocean/utils/logging"

	"github.com/LMP88959/Digital-Subband-Video-1/codec/dsv"
	"github.com/LMP88959/Digital-Subband-Video-1/codec/dsv/config"
	"github.com/LMP88959/Digital-Subband-Video-1/codec/dsv/frame"
	"github.com/LMP88959/Digital-Subband-Video-1/codec/dsv/ratecontrol"
)

const (
	logPath      = "dsvtool.log"
	logMaxSize   = 10 // MB
	logMaxBackup = 3
	logMaxAge    = 28 // days
)

func main() {
	var (
		mode     = flag.String("mode", "", "encode or decode")
		in       = flag.String("in", "", "input file path (- for stdin)")
		out      = flag.String("out", "", "output file path (- for stdout)")
		width    = flag.Int("width", 0, "frame width in pixels (encode only)")
		height   = flag.Int("height", 0, "frame height in pixels (encode only)")
		subsamp  = flag.String("subsamp", "420", "chroma subsampling: 444, 422, 420 or 411 (encode only)")
		fps      = flag.Int("fps", 25, "frames per second (encode only)")
		gop      = flag.Int("gop", 24, "frames between forced intra frames, 0 for all-intra (encode only)")
		quality  = flag.Int("quality", 85, "CRF quality percentage, 1-100 (encode only)")
		logLevel = flag.Int("loglevel", int(logging.Info), "log level, Debug=0 .. Fatal=4")
	)
	flag.Parse()

	fileLog := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    logMaxSize,
		MaxBackups: logMaxBackup,
		MaxAge:     logMaxAge,
	}
	log := logging.New(int8(*logLevel), fileLog, true)
	dsv.Log = log
	config.Log = log

	inFile, err := openIn(*in)
	if err != nil {
		log.Fatal("dsvtool: could not open input", "error", err.Error())
	}
	defer inFile.Close()

	outFile, err := openOut(*out)
	if err != nil {
		log.Fatal("dsvtool: could not open output", "error", err.Error())
	}
	defer outFile.Close()

	switch *mode {
	case "encode":
		sub, err := parseSubsamp(*subsamp)
		if err != nil {
			log.Fatal("dsvtool: bad -subsamp", "error", err.Error())
		}
		if *width <= 0 || *height <= 0 {
			log.Fatal("dsvtool: -width and -height are required for encode")
		}
		cfg := config.Default(config.Metadata{
			Width: *width, Height: *height, Subsamp: sub,
			FPSNum: *fps, FPSDen: 1, AspectNum: 1, AspectDen: 1,
		})
		cfg.GOP = *gop
		cfg.RateControl.Quality = ratecontrol.QualityPercent(clampPct(*quality))
		if err := runEncode(cfg, inFile, outFile, log); err != nil {
			log.Fatal("dsvtool: encode failed", "error", err.Error())
		}
	case "decode":
		if err := runDecode(inFile, outFile, log); err != nil {
			log.Fatal("dsvtool: decode failed", "error", err.Error())
		}
	default:
		fmt.Fprintln(os.Stderr, "dsvtool: -mode must be \"encode\" or \"decode\"")
		flag.Usage()
		os.Exit(2)
	}
}

func openIn(path string) (*os.File, error) {
	if path == "-" || path == "" {
		return os.Stdin, nil
	}
	return os.Open(path)
}

func openOut(path string) (*os.File, error) {
	if path == "-" || path == "" {
		return os.Stdout, nil
	}
	return os.Create(path)
}

func parseSubsamp(s string) (frame.Format, error) {
	switch s {
	case "444":
		return frame.Subsamp444, nil
	case "422":
		return frame.Subsamp422, nil
	case "420":
		return frame.Subsamp420, nil
	case "411":
		return frame.Subsamp411, nil
	default:
		return 0, fmt.Errorf("unknown subsampling %q", s)
	}
}

func clampPct(pct int) int {
	if pct < 1 {
		return 1
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// frameSize returns the byte size of one raw planar frame for md's
// dimensions and subsampling.
func frameSize(md config.Metadata) int {
	hs, vs := md.Subsamp.HShift(), md.Subsamp.VShift()
	cw := roundShift(md.Width, hs)
	ch := roundShift(md.Height, vs)
	return md.Width*md.Height + 2*cw*ch
}

func roundShift(v, sh int) int {
	if sh == 0 {
		return v
	}
	return (v + (1 << uint(sh-1))) >> uint(sh)
}

// runEncode reads consecutive raw planar frames from r and writes the
// resulting DSV-1 packet chain, terminated by an end-of-stream packet,
// to w.
func runEncode(cfg config.Encoder, r io.Reader, w io.Writer, log logging.Logger) error {
	enc, err := dsv.NewEncoder(cfg)
	if err != nil {
		return err
	}

	sz := frameSize(cfg.Metadata)
	buf := make([]byte, sz)
	nframes := 0
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		src := frame.LoadPlanar(cfg.Metadata.Subsamp, buf, cfg.Metadata.Width, cfg.Metadata.Height)
		pkts, err := enc.PushFrame(src)
		if err != nil {
			return err
		}
		for _, pkt := range pkts {
			if _, err := w.Write(pkt); err != nil {
				return err
			}
		}
		nframes++
	}
	if _, err := w.Write(enc.EndOfStream()); err != nil {
		return err
	}
	log.Info("dsvtool: encode complete", "frames", nframes)
	return nil
}

// runDecode consumes a DSV-1 packet chain from r, one packet at a time
// via its big-endian next_link field, and writes each decoded frame's
// raw planar bytes to w.
func runDecode(r io.Reader, w io.Writer, log logging.Logger) error {
	dec := dsv.NewDecoder()
	nframes := 0
	for {
		pkt, err := readPacket(r)
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		fr, err := dec.Decode(pkt)
		if err != nil {
			log.Warning("dsvtool: skipping packet", "error", err.Error())
			continue
		}
		if fr == nil {
			continue
		}
		if err := writePlanar(w, fr); err != nil {
			return err
		}
		nframes++
	}
	log.Info("dsvtool: decode complete", "frames", nframes)
	return nil
}

// packetHeaderSize mirrors codec/dsv's own unexported header layout:
// a 6-byte magic+type prefix followed by two big-endian uint32 link
// offsets (14 bytes total). dsvtool has no access to the package's
// unexported constant, so the size is fixed here against the same
// wire layout codec/dsv/packet.go writes.
const packetHeaderSize = 14

// nextLinkOffset is the byte offset of the next_link field within a
// packet header.
const nextLinkOffset = 10

// readPacket reads one complete packet (header plus body) from r,
// sized by the header's own next_link field.
func readPacket(r io.Reader) ([]byte, error) {
	hdr := make([]byte, packetHeaderSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, err
	}
	next := binary.BigEndian.Uint32(hdr[nextLinkOffset : nextLinkOffset+4])
	if next < packetHeaderSize {
		return hdr, nil
	}
	body := make([]byte, next-packetHeaderSize)
	if len(body) > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, err
		}
	}
	return append(hdr, body...), nil
}

// writePlanar writes fr's three planes contiguously, tightly packed
// (no border, no stride padding), matching the layout frame.LoadPlanar
// expects back on the encode side.
func writePlanar(w io.Writer, fr *frame.Frame) error {
	for i := range fr.Planes {
		p := &fr.Planes[i]
		for y := 0; y < p.H; y++ {
			row := p.Data[p.Origin+y*p.Stride : p.Origin+y*p.Stride+p.W]
			if _, err := w.Write(row); err != nil {
				return err
			}
		}
	}
	return nil
}
