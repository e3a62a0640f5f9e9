// Package dataset stores pre-encoded training examples as zstd-compressed
// blocks with random access through a permutable block order.
//
// An Array holds Size rows of Width float32 values. Rows are grouped into
// blocks of BlockSize rows and each block is compressed as an independent
// zstd frame, so a shuffled epoch only needs to permute block ids, never the
// rows themselves. Only the last block may be short.
//
// Arrays are immutable once built and safe for concurrent reads.
package dataset

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"
)

// DefaultBlockSize is the number of rows per compressed block.
const DefaultBlockSize = 500

// Tensor is a dense row-major matrix.
type Tensor struct {
	Rows  int
	Width int
	Data  []float32
}

// Row returns row i. The slice aliases the tensor data.
func (t Tensor) Row(i int) []float32 {
	return t.Data[i*t.Width : (i+1)*t.Width]
}

// Array is a compressed row store.
type Array struct {
	Width     int
	BlockSize int
	Size      int

	frames  [][]byte
	decoder *zstd.Decoder
}

func newArray(width, blockSize, size int, frames [][]byte, dec *zstd.Decoder) (*Array, error) {
	if width < 1 {
		return nil, fmt.Errorf("%w: width %d", ErrFormat, width)
	}
	if blockSize < 1 {
		return nil, fmt.Errorf("%w: block size %d", ErrFormat, blockSize)
	}
	if want := BlockCount(size, blockSize); len(frames) != want {
		return nil, fmt.Errorf("%w: %d frames for %d rows, want %d", ErrFormat, len(frames), size, want)
	}
	return &Array{Width: width, BlockSize: blockSize, Size: size, frames: frames, decoder: dec}, nil
}

// BlockCount returns ceil(size/blockSize).
func BlockCount(size, blockSize int) int {
	if size <= 0 || blockSize <= 0 {
		return 0
	}
	return (size + blockSize - 1) / blockSize
}

// Blocks returns the number of compressed blocks.
func (a *Array) Blocks() int { return len(a.frames) }

// CompressedBytes returns the total size of all frames.
func (a *Array) CompressedBytes() int64 {
	var n int64
	for _, f := range a.frames {
		n += int64(len(f))
	}
	return n
}

// blockRows returns the number of rows stored in block b.
func (a *Array) blockRows(b int) int {
	if b == len(a.frames)-1 {
		if r := a.Size - b*a.BlockSize; r > 0 {
			return r
		}
	}
	return a.BlockSize
}

// Block decompresses block b.
func (a *Array) Block(b int) ([]float32, error) {
	if b < 0 || b >= len(a.frames) {
		return nil, fmt.Errorf("%w: block %d of %d", ErrBlockOrder, b, len(a.frames))
	}
	raw, err := a.decoder.DecodeAll(a.frames[b], nil)
	if err != nil {
		return nil, &FormatError{Section: fmt.Sprintf("block %d", b), Err: err}
	}
	want := a.blockRows(b) * a.Width
	if len(raw) != want*4 {
		return nil, &FormatError{
			Section: fmt.Sprintf("block %d", b),
			Err:     fmt.Errorf("decoded %d bytes, want %d", len(raw), want*4),
		}
	}
	return decodeFloats(raw), nil
}

// DecompressWithOrder returns up to num rows starting at logical position
// start, where logical position p lives in block order[p/BlockSize]. The
// slice is clamped to total (usually Size). It returns the rows, the row
// count and whether the slice reached total.
func (a *Array) DecompressWithOrder(start, num, total int, order []int) (Tensor, int, bool, error) {
	if total > a.Size {
		total = a.Size
	}
	end := start + num
	if end > total {
		end = total
	}
	if start >= end {
		return Tensor{Width: a.Width}, 0, start >= total, nil
	}

	count := end - start
	out := Tensor{Rows: count, Width: a.Width, Data: make([]float32, 0, count*a.Width)}

	cur := -1
	var rows []float32
	for p := start; p < end; {
		slot := p / a.BlockSize
		if slot >= len(order) {
			return Tensor{}, 0, false, fmt.Errorf("%w: position %d needs slot %d of %d", ErrBlockOrder, p, slot, len(order))
		}
		b := order[slot]
		if b != cur {
			var err error
			if rows, err = a.Block(b); err != nil {
				return Tensor{}, 0, false, err
			}
			cur = b
		}

		off := p % a.BlockSize
		n := a.blockRows(b) - off
		if n <= 0 {
			return Tensor{}, 0, false, fmt.Errorf("%w: short block %d placed at slot %d", ErrBlockOrder, b, slot)
		}
		if rem := a.BlockSize - off; rem < n {
			n = rem
		}
		if rem := end - p; rem < n {
			n = rem
		}
		out.Data = append(out.Data, rows[off*a.Width:(off+n)*a.Width]...)
		p += n
	}
	return out, count, end >= total, nil
}

// IdentityOrder returns [0, 1, ..., blocks-1].
func IdentityOrder(blocks int) []int {
	order := make([]int, blocks)
	for i := range order {
		order[i] = i
	}
	return order
}

func encodeFloats(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeFloats(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
