package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/3leaps/govarcall/pkg/dataset"
)

// LinearFormat identifies the Linear checkpoint layout.
const LinearFormat = "govarcall.linear.v1"

// ErrShape is returned when a tensor or checkpoint does not match the model.
var ErrShape = errors.New("shape mismatch")

const logEpsilon = 1e-12

// Linear is a multi-head softmax regression over flattened features. It is
// small enough to train in tests and stands in for the real network when
// exercising the training loop end to end.
type Linear struct {
	inputs int
	heads  Heads

	weights []float64 // inputs x heads.Width(), row-major
	bias    []float64

	rate   float64
	lambda float64
}

// NewLinear returns a zero-initialised model.
func NewLinear(inputs int, heads Heads) (*Linear, error) {
	if inputs < 1 {
		return nil, fmt.Errorf("%w: inputs %d", ErrShape, inputs)
	}
	for _, s := range heads.Sizes() {
		if s < 1 {
			return nil, fmt.Errorf("%w: head sizes %v", ErrShape, heads.Sizes())
		}
	}
	out := heads.Width()
	return &Linear{
		inputs:  inputs,
		heads:   heads,
		weights: make([]float64, inputs*out),
		bias:    make([]float64, out),
	}, nil
}

// Heads returns the label layout.
func (m *Linear) Heads() Heads { return m.heads }

func (m *Linear) SetLearningRate(rate float64) float64 {
	m.rate = rate
	return m.rate
}

func (m *Linear) SetL2Lambda(lambda float64) float64 {
	m.lambda = lambda
	return m.lambda
}

// LearningRate returns the rate in effect.
func (m *Linear) LearningRate() float64 { return m.rate }

func (m *Linear) checkBatch(x, y dataset.Tensor) error {
	if x.Width != m.inputs {
		return fmt.Errorf("%w: feature width %d, model expects %d", ErrShape, x.Width, m.inputs)
	}
	if y.Width != m.heads.Width() {
		return fmt.Errorf("%w: label width %d, model expects %d", ErrShape, y.Width, m.heads.Width())
	}
	if x.Rows != y.Rows {
		return fmt.Errorf("%w: %d feature rows, %d label rows", ErrShape, x.Rows, y.Rows)
	}
	return nil
}

// forward writes per-head probabilities of row into probs.
func (m *Linear) forward(row []float32, probs []float64) {
	out := m.heads.Width()
	copy(probs, m.bias)
	for i, v := range row {
		if v == 0 {
			continue
		}
		w := m.weights[i*out : (i+1)*out]
		fv := float64(v)
		for j := range probs {
			probs[j] += fv * w[j]
		}
	}
	off := 0
	for _, n := range m.heads.Sizes() {
		softmax(probs[off : off+n])
		off += n
	}
}

func softmax(z []float64) {
	maxZ := math.Inf(-1)
	for _, v := range z {
		maxZ = math.Max(maxZ, v)
	}
	var sum float64
	for i, v := range z {
		z[i] = math.Exp(v - maxZ)
		sum += z[i]
	}
	for i := range z {
		z[i] /= sum
	}
}

// headLosses returns the cross-entropy of each head and, when grad is not
// nil, writes dLoss/dLogits into grad.
func (m *Linear) headLosses(probs []float64, label []float32, grad []float64) [4]float64 {
	var out [4]float64
	off := 0
	for h, n := range m.heads.Sizes() {
		var mass float64
		for j := off; j < off+n; j++ {
			t := float64(label[j])
			mass += t
			if t != 0 {
				out[h] -= t * math.Log(probs[j]+logEpsilon)
			}
		}
		if grad != nil {
			for j := off; j < off+n; j++ {
				grad[j] = probs[j]*mass - float64(label[j])
			}
		}
		off += n
	}
	return out
}

func (m *Linear) l2() float64 {
	var s float64
	for _, w := range m.weights {
		s += w * w
	}
	return 0.5 * m.lambda * s
}

func (m *Linear) batchLosses(x, y dataset.Tensor, gw, gb []float64) Losses {
	out := m.heads.Width()
	probs := make([]float64, out)
	var grad []float64
	if gw != nil {
		grad = make([]float64, out)
	}

	var l Losses
	for r := 0; r < x.Rows; r++ {
		row := x.Row(r)
		m.forward(row, probs)
		h := m.headLosses(probs, y.Row(r), grad)
		l.Base += h[0]
		l.Genotype += h[1]
		l.Indel1 += h[2]
		l.Indel2 += h[3]

		if gw == nil {
			continue
		}
		for j, g := range grad {
			gb[j] += g
		}
		for i, v := range row {
			if v == 0 {
				continue
			}
			dst := gw[i*out : (i+1)*out]
			fv := float64(v)
			for j, g := range grad {
				dst[j] += fv * g
			}
		}
	}
	l.L2 = m.l2()
	l.Total = l.Base + l.Genotype + l.Indel1 + l.Indel2 + l.L2
	return l
}

// Train performs one gradient step with the batch-mean gradient.
func (m *Linear) Train(x, y dataset.Tensor) (Losses, error) {
	if err := m.checkBatch(x, y); err != nil {
		return Losses{}, err
	}
	gw := make([]float64, len(m.weights))
	gb := make([]float64, len(m.bias))
	l := m.batchLosses(x, y, gw, gb)
	if x.Rows == 0 {
		return l, nil
	}

	inv := 1 / float64(x.Rows)
	for i := range m.weights {
		m.weights[i] -= m.rate * (gw[i]*inv + m.lambda*m.weights[i])
	}
	for j := range m.bias {
		m.bias[j] -= m.rate * gb[j] * inv
	}
	return l, nil
}

// Evaluate returns the batch losses.
func (m *Linear) Evaluate(x, y dataset.Tensor) (Losses, error) {
	if err := m.checkBatch(x, y); err != nil {
		return Losses{}, err
	}
	return m.batchLosses(x, y, nil, nil), nil
}

// Predict returns per-head probabilities.
func (m *Linear) Predict(x dataset.Tensor) (dataset.Tensor, error) {
	if x.Width != m.inputs {
		return dataset.Tensor{}, fmt.Errorf("%w: feature width %d, model expects %d", ErrShape, x.Width, m.inputs)
	}
	out := m.heads.Width()
	res := dataset.Tensor{Rows: x.Rows, Width: out, Data: make([]float32, x.Rows*out)}
	probs := make([]float64, out)
	for r := 0; r < x.Rows; r++ {
		m.forward(x.Row(r), probs)
		dst := res.Row(r)
		for j, p := range probs {
			dst[j] = float32(p)
		}
	}
	return res, nil
}

type linearCheckpoint struct {
	Format  string    `json:"format"`
	Inputs  int       `json:"inputs"`
	Heads   Heads     `json:"heads"`
	Weights []float64 `json:"weights"`
	Bias    []float64 `json:"bias"`
	Rate    float64   `json:"learning_rate"`
	Lambda  float64   `json:"l2_lambda"`
}

// SaveParameters writes a JSON checkpoint atomically.
func (m *Linear) SaveParameters(path string) error {
	data, err := json.Marshal(linearCheckpoint{
		Format:  LinearFormat,
		Inputs:  m.inputs,
		Heads:   m.heads,
		Weights: m.weights,
		Bias:    m.bias,
		Rate:    m.rate,
		Lambda:  m.lambda,
	})
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// RestoreParameters loads a checkpoint written by SaveParameters. The
// learning rate and lambda are restored too.
func (m *Linear) RestoreParameters(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var c linearCheckpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return fmt.Errorf("parse checkpoint %s: %w", path, err)
	}
	if c.Format != LinearFormat {
		return fmt.Errorf("checkpoint %s: unsupported format %q", path, c.Format)
	}
	if c.Inputs != m.inputs || c.Heads != m.heads ||
		len(c.Weights) != len(m.weights) || len(c.Bias) != len(m.bias) {
		return fmt.Errorf("%w: checkpoint %s does not match model", ErrShape, path)
	}
	copy(m.weights, c.Weights)
	copy(m.bias, c.Bias)
	m.rate = c.Rate
	m.lambda = c.Lambda
	return nil
}

var _ Model = (*Linear)(nil)
