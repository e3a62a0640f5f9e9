package dataset

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildSequential builds a dataset whose row i has x = [i, i+0.5] and y = [-i].
func buildSequential(t *testing.T, size, blockSize int) *Dataset {
	t.Helper()
	b, err := NewBuilder(2, 1, blockSize)
	require.NoError(t, err)
	for i := 0; i < size; i++ {
		require.NoError(t, b.Append([]float32{float32(i), float32(i) + 0.5}, []float32{-float32(i)}))
	}
	d, err := b.Finish()
	require.NoError(t, err)
	t.Cleanup(d.Close)
	return d
}

func TestBuilderBlocks(t *testing.T) {
	d := buildSequential(t, 23, 5)
	assert.Equal(t, 23, d.Size)
	assert.Equal(t, 5, d.Blocks())
	assert.Equal(t, 5, d.X.Blocks())
	assert.Equal(t, 5, d.Y.Blocks())

	last, err := d.X.Block(4)
	require.NoError(t, err)
	assert.Equal(t, []float32{20, 20.5, 21, 21.5, 22, 22.5}, last)

	_, err = d.X.Block(5)
	assert.True(t, errors.Is(err, ErrBlockOrder))
}

func TestDecompressWithOrderIdentity(t *testing.T) {
	d := buildSequential(t, 23, 5)
	order := IdentityOrder(d.Blocks())

	x, n, end, err := d.X.DecompressWithOrder(3, 9, d.Size, order)
	require.NoError(t, err)
	assert.Equal(t, 9, n)
	assert.False(t, end)
	require.Equal(t, 9, x.Rows)
	for i := 0; i < n; i++ {
		assert.Equal(t, []float32{float32(3 + i), float32(3+i) + 0.5}, x.Row(i))
	}

	y, n, end, err := d.Y.DecompressWithOrder(20, 10, d.Size, order)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "clamped to dataset size")
	assert.True(t, end)
	assert.Equal(t, []float32{-20, -21, -22}, y.Data)

	_, n, end, err = d.Y.DecompressWithOrder(23, 5, d.Size, order)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.True(t, end)
}

func TestDecompressWithOrderPermuted(t *testing.T) {
	d := buildSequential(t, 20, 5)
	order := []int{2, 0, 1, 3}

	y, n, _, err := d.Y.DecompressWithOrder(3, 8, d.Size, order)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	// slots 0, 1 and 2 map to blocks 2, 0 and 1
	assert.Equal(t, []float32{-13, -14, 0, -1, -2, -3, -4, -5}, y.Data)
}

func TestDecompressWithOrderShortBlockMisplaced(t *testing.T) {
	d := buildSequential(t, 12, 5)
	_, _, _, err := d.Y.DecompressWithOrder(0, 10, d.Size, []int{2, 0, 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBlockOrder))

	_, _, _, err = d.Y.DecompressWithOrder(0, 10, d.Size, []int{0})
	assert.True(t, errors.Is(err, ErrBlockOrder))
}

func TestContainerRoundTrip(t *testing.T) {
	d := buildSequential(t, 17, 4)

	var buf bytes.Buffer
	n, err := d.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)

	h, err := ReadHeader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, FormatV1, h.Format)
	assert.Equal(t, 17, h.Size)
	assert.Len(t, h.X.Frames, 5)

	got, err := Read(&buf)
	require.NoError(t, err)
	defer got.Close()

	order := IdentityOrder(got.Blocks())
	want, _, _, err := d.X.DecompressWithOrder(0, 17, 17, order)
	require.NoError(t, err)
	have, _, _, err := got.X.DecompressWithOrder(0, 17, 17, order)
	require.NoError(t, err)
	assert.Equal(t, want.Data, have.Data)
}

func TestReadErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"no newline", `{"format":"govarcall.dataset.v1"}`},
		{"bad json", "{nope\n"},
		{"wrong format", `{"format":"other","size":1,"block_size":1}` + "\n"},
		{"truncated frames", `{"format":"govarcall.dataset.v1","size":1,"block_size":1,"x":{"width":1,"frames":[10]},"y":{"width":1,"frames":[10]}}` + "\n" + "abc"},
		{"frame count mismatch", `{"format":"govarcall.dataset.v1","size":3,"block_size":1,"x":{"width":1,"frames":[]},"y":{"width":1,"frames":[]}}` + "\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.in))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrFormat), err.Error())
		})
	}
}

func TestPack(t *testing.T) {
	var xs, ys strings.Builder
	xs.WriteString("# features\n")
	for i := 0; i < 7; i++ {
		fmt.Fprintf(&xs, "%d %d %d\n", i, i*2, i*3)
		fmt.Fprintf(&ys, "%d 1\n\n", i%2)
	}

	d, err := Pack(strings.NewReader(xs.String()), strings.NewReader(ys.String()), 3)
	require.NoError(t, err)
	defer d.Close()

	assert.Equal(t, 7, d.Size)
	assert.Equal(t, 3, d.X.Width)
	assert.Equal(t, 2, d.Y.Width)
	assert.Equal(t, 3, d.Blocks())

	x, _, _, err := d.X.DecompressWithOrder(6, 1, 7, IdentityOrder(3))
	require.NoError(t, err)
	assert.Equal(t, []float32{6, 12, 18}, x.Data)
}

func TestPackErrors(t *testing.T) {
	_, err := Pack(strings.NewReader("1 2\n3 4\n"), strings.NewReader("1\n"), 2)
	assert.True(t, errors.Is(err, ErrInconsistent))

	_, err = Pack(strings.NewReader("1 2\n3\n"), strings.NewReader("1\n1\n"), 2)
	assert.Error(t, err)

	_, err = Pack(strings.NewReader("1 x\n"), strings.NewReader("1\n"), 2)
	assert.Error(t, err)

	_, err = Pack(strings.NewReader(""), strings.NewReader(""), 2)
	assert.True(t, errors.Is(err, ErrFormat))
}

func TestInconsistencyError(t *testing.T) {
	err := error(&InconsistencyError{Start: 10, Requested: 5, XCount: 5, YCount: 4})
	assert.True(t, errors.Is(err, ErrInconsistent))
	assert.Contains(t, err.Error(), "5/4")
}
