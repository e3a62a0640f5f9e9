// Package model defines the contract the trainer drives and a small
// reference implementation.
//
// The trainer treats a Model as opaque: it never inspects weights, it only
// calls the methods below. Implementations need not be safe for concurrent
// use; the trainer guarantees at most one call is in flight at a time.
package model

import (
	"github.com/3leaps/govarcall/pkg/dataset"
)

// Losses are the per-batch loss terms. Each term is summed over the batch,
// so the trainer divides accumulated totals by example counts.
type Losses struct {
	Total    float64 `json:"total"`
	Base     float64 `json:"base"`
	Genotype float64 `json:"genotype"`
	Indel1   float64 `json:"indel_1"`
	Indel2   float64 `json:"indel_2"`
	L2       float64 `json:"l2"`
}

// Add returns the element-wise sum of l and o.
func (l Losses) Add(o Losses) Losses {
	return Losses{
		Total:    l.Total + o.Total,
		Base:     l.Base + o.Base,
		Genotype: l.Genotype + o.Genotype,
		Indel1:   l.Indel1 + o.Indel1,
		Indel2:   l.Indel2 + o.Indel2,
		L2:       l.L2 + o.L2,
	}
}

// Scale returns l with every term multiplied by f.
func (l Losses) Scale(f float64) Losses {
	return Losses{
		Total:    l.Total * f,
		Base:     l.Base * f,
		Genotype: l.Genotype * f,
		Indel1:   l.Indel1 * f,
		Indel2:   l.Indel2 * f,
		L2:       l.L2 * f,
	}
}

// Model is the trainable network handle.
type Model interface {
	// Train runs one optimisation step on the batch and returns its losses.
	Train(x, y dataset.Tensor) (Losses, error)

	// Evaluate returns the batch losses without updating parameters.
	Evaluate(x, y dataset.Tensor) (Losses, error)

	// Predict returns per-head probabilities laid out like the labels.
	Predict(x dataset.Tensor) (dataset.Tensor, error)

	// SetLearningRate applies rate and returns the value in effect.
	SetLearningRate(rate float64) float64

	// SetL2Lambda applies the L2 regularisation weight and returns it.
	SetL2Lambda(lambda float64) float64

	// SaveParameters writes the parameters to path.
	SaveParameters(path string) error

	// RestoreParameters loads parameters previously saved to path.
	RestoreParameters(path string) error
}

// Heads describes how a label row is split into output heads. The layout is
// base change, genotype, first indel length, second indel length.
type Heads struct {
	Base     int `json:"base" yaml:"base"`
	Genotype int `json:"genotype" yaml:"genotype"`
	Indel1   int `json:"indel_1" yaml:"indel_1"`
	Indel2   int `json:"indel_2" yaml:"indel_2"`
}

// DefaultHeads is the standard label layout.
var DefaultHeads = Heads{Base: 21, Genotype: 3, Indel1: 33, Indel2: 33}

// Sizes returns the head widths in label order.
func (h Heads) Sizes() []int {
	return []int{h.Base, h.Genotype, h.Indel1, h.Indel2}
}

// Width returns the label row width.
func (h Heads) Width() int {
	return h.Base + h.Genotype + h.Indel1 + h.Indel2
}

// GenotypeOffset returns the index of the first genotype column.
func (h Heads) GenotypeOffset() int { return h.Base }
