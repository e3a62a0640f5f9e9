package dataset

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"
)

// FormatV1 identifies the container layout: one JSON header line followed by
// the feature frames and then the label frames, back to back.
const FormatV1 = "govarcall.dataset.v1"

// maxHeaderBytes bounds the header line.
const maxHeaderBytes = 64 << 20

// Header describes a container.
type Header struct {
	Format    string      `json:"format"`
	Size      int         `json:"size"`
	BlockSize int         `json:"block_size"`
	X         ArrayHeader `json:"x"`
	Y         ArrayHeader `json:"y"`
	CreatedAt time.Time   `json:"created_at"`
}

// ArrayHeader describes one array of the container.
type ArrayHeader struct {
	Width  int     `json:"width"`
	Frames []int64 `json:"frames"`
}

// Dataset pairs a feature array with a label array of equal size.
type Dataset struct {
	Size      int
	BlockSize int
	X         *Array
	Y         *Array
	CreatedAt time.Time
}

// Blocks returns the number of blocks per array.
func (d *Dataset) Blocks() int { return BlockCount(d.Size, d.BlockSize) }

// Header returns the container header for d.
func (d *Dataset) Header() Header {
	return Header{
		Format:    FormatV1,
		Size:      d.Size,
		BlockSize: d.BlockSize,
		X:         ArrayHeader{Width: d.X.Width, Frames: frameSizes(d.X.frames)},
		Y:         ArrayHeader{Width: d.Y.Width, Frames: frameSizes(d.Y.frames)},
		CreatedAt: d.CreatedAt,
	}
}

func frameSizes(frames [][]byte) []int64 {
	out := make([]int64, len(frames))
	for i, f := range frames {
		out[i] = int64(len(f))
	}
	return out
}

// WriteTo writes d in container form.
func (d *Dataset) WriteTo(w io.Writer) (int64, error) {
	hdr, err := json.Marshal(d.Header())
	if err != nil {
		return 0, err
	}
	hdr = append(hdr, '\n')

	var total int64
	n, err := w.Write(hdr)
	total += int64(n)
	if err != nil {
		return total, err
	}
	for _, frames := range [][][]byte{d.X.frames, d.Y.frames} {
		for _, f := range frames {
			n, err := w.Write(f)
			total += int64(n)
			if err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

// ReadHeader reads only the header line.
func ReadHeader(r io.Reader) (Header, error) {
	return readHeader(bufio.NewReader(r))
}

func readHeader(br *bufio.Reader) (Header, error) {
	var h Header
	line, err := readLine(br)
	if err != nil {
		return h, &FormatError{Section: "header", Err: err}
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, &FormatError{Section: "header", Err: err}
	}
	if h.Format != FormatV1 {
		return h, &FormatError{Section: "header", Err: fmt.Errorf("unsupported format %q", h.Format)}
	}
	if h.Size < 0 || h.BlockSize < 1 {
		return h, &FormatError{Section: "header", Err: fmt.Errorf("size %d block size %d", h.Size, h.BlockSize)}
	}
	return h, nil
}

func readLine(br *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		chunk, err := br.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > maxHeaderBytes {
			return nil, errors.New("header line too long")
		}
		if err == nil {
			return line, nil
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			if errors.Is(err, io.EOF) {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
}

// Read parses a whole container.
func Read(r io.Reader) (*Dataset, error) {
	br := bufio.NewReader(r)
	h, err := readHeader(br)
	if err != nil {
		return nil, err
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	xFrames, err := readFrames(br, "x", h.X.Frames)
	if err != nil {
		dec.Close()
		return nil, err
	}
	yFrames, err := readFrames(br, "y", h.Y.Frames)
	if err != nil {
		dec.Close()
		return nil, err
	}

	x, err := newArray(h.X.Width, h.BlockSize, h.Size, xFrames, dec)
	if err != nil {
		dec.Close()
		return nil, err
	}
	y, err := newArray(h.Y.Width, h.BlockSize, h.Size, yFrames, dec)
	if err != nil {
		dec.Close()
		return nil, err
	}
	return &Dataset{Size: h.Size, BlockSize: h.BlockSize, X: x, Y: y, CreatedAt: h.CreatedAt}, nil
}

func readFrames(r io.Reader, section string, sizes []int64) ([][]byte, error) {
	frames := make([][]byte, len(sizes))
	for i, n := range sizes {
		if n < 0 || n > maxHeaderBytes {
			return nil, &FormatError{Section: section, Err: fmt.Errorf("frame %d size %d", i, n)}
		}
		frames[i] = make([]byte, n)
		if _, err := io.ReadFull(r, frames[i]); err != nil {
			return nil, &FormatError{Section: section, Err: fmt.Errorf("frame %d: %w", i, err)}
		}
	}
	return frames, nil
}

// Builder accumulates rows and compresses full blocks as they fill.
type Builder struct {
	xWidth, yWidth int
	blockSize      int
	size           int

	enc     *zstd.Encoder
	xFrames [][]byte
	yFrames [][]byte
	xPend   []float32
	yPend   []float32
}

// NewBuilder returns a Builder for rows of the given widths.
func NewBuilder(xWidth, yWidth, blockSize int) (*Builder, error) {
	if xWidth < 1 || yWidth < 1 {
		return nil, fmt.Errorf("dataset widths must be >= 1, got %d/%d", xWidth, yWidth)
	}
	if blockSize < 1 {
		return nil, fmt.Errorf("dataset block size must be >= 1, got %d", blockSize)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	return &Builder{xWidth: xWidth, yWidth: yWidth, blockSize: blockSize, enc: enc}, nil
}

// Append adds one example.
func (b *Builder) Append(x, y []float32) error {
	if len(x) != b.xWidth {
		return fmt.Errorf("feature row %d has %d values, want %d", b.size, len(x), b.xWidth)
	}
	if len(y) != b.yWidth {
		return fmt.Errorf("label row %d has %d values, want %d", b.size, len(y), b.yWidth)
	}
	b.xPend = append(b.xPend, x...)
	b.yPend = append(b.yPend, y...)
	b.size++
	if b.size%b.blockSize == 0 {
		b.flush()
	}
	return nil
}

// Len returns the number of appended rows.
func (b *Builder) Len() int { return b.size }

func (b *Builder) flush() {
	if len(b.xPend) == 0 {
		return
	}
	b.xFrames = append(b.xFrames, b.enc.EncodeAll(encodeFloats(b.xPend), nil))
	b.yFrames = append(b.yFrames, b.enc.EncodeAll(encodeFloats(b.yPend), nil))
	b.xPend = b.xPend[:0]
	b.yPend = b.yPend[:0]
}

// Finish compresses any partial block and returns the dataset. The Builder
// must not be used afterwards.
func (b *Builder) Finish() (*Dataset, error) {
	b.flush()
	if err := b.enc.Close(); err != nil {
		return nil, err
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	x, err := newArray(b.xWidth, b.blockSize, b.size, b.xFrames, dec)
	if err != nil {
		dec.Close()
		return nil, err
	}
	y, err := newArray(b.yWidth, b.blockSize, b.size, b.yFrames, dec)
	if err != nil {
		dec.Close()
		return nil, err
	}
	return &Dataset{
		Size:      b.size,
		BlockSize: b.blockSize,
		X:         x,
		Y:         y,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Close releases the decoder shared by both arrays.
func (d *Dataset) Close() {
	if d != nil && d.X != nil && d.X.decoder != nil {
		d.X.decoder.Close()
	}
}
