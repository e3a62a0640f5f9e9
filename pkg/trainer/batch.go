package trainer

import (
	"github.com/3leaps/govarcall/pkg/dataset"
)

// Batch is one decompressed slice of the dataset.
type Batch struct {
	// Start is the cursor the batch was fetched at.
	Start int
	Count int
	End   bool
	X     dataset.Tensor
	Y     dataset.Tensor
}

// BatchProvider slices the feature and label arrays into training and
// validation batches. It only reads the dataset and may run concurrently with
// a model operation.
type BatchProvider struct {
	data            *dataset.Dataset
	trainBatch      int
	validationBatch int
}

// NewBatchProvider returns a provider over data.
func NewBatchProvider(data *dataset.Dataset, trainBatch, validationBatch int) *BatchProvider {
	return &BatchProvider{data: data, trainBatch: trainBatch, validationBatch: validationBatch}
}

// BatchSize returns the size of the batch starting at cursor:
//  1. before the boundary with less than a training batch left: the remainder
//  2. before the boundary: the training batch size
//  3. strictly past the boundary and unaligned: the distance to the next
//     multiple of the validation batch size
//  4. otherwise, including a cursor sitting on the boundary: the validation
//     batch size
func BatchSize(cursor, validationStart, trainBatch, validationBatch int) int {
	switch {
	case cursor < validationStart && validationStart-cursor < trainBatch:
		return validationStart - cursor
	case cursor < validationStart:
		return trainBatch
	case cursor > validationStart && cursor%validationBatch != 0:
		return validationBatch - cursor%validationBatch
	default:
		return validationBatch
	}
}

// Next decompresses the batch at cursor under the given block order. ok is
// false once cursor reaches the dataset size. A feature/label mismatch
// returns a *dataset.InconsistencyError.
func (p *BatchProvider) Next(cursor, validationStart int, order []int) (Batch, bool, error) {
	size := p.data.Size
	if cursor >= size {
		return Batch{}, false, nil
	}
	n := BatchSize(cursor, validationStart, p.trainBatch, p.validationBatch)

	x, xn, xend, err := p.data.X.DecompressWithOrder(cursor, n, size, order)
	if err != nil {
		return Batch{}, false, err
	}
	y, yn, yend, err := p.data.Y.DecompressWithOrder(cursor, n, size, order)
	if err != nil {
		return Batch{}, false, err
	}
	if xn != yn || xend != yend {
		return Batch{}, false, &dataset.InconsistencyError{
			Start: cursor, Requested: n,
			XCount: xn, YCount: yn,
			XEnd: xend, YEnd: yend,
		}
	}
	return Batch{Start: cursor, Count: xn, End: xend, X: x, Y: y}, true, nil
}
