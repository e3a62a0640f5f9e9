package trainer

import (
	"context"

	"github.com/3leaps/govarcall/pkg/dataset"
	"github.com/3leaps/govarcall/pkg/genotype"
	"github.com/3leaps/govarcall/pkg/model"
)

// Evaluation summarises a full pass of a model over a dataset.
type Evaluation struct {
	Examples int `json:"examples"`

	// Losses are per-example means.
	Losses model.Losses `json:"losses"`

	// Confusion[truth][predicted] counts genotype-head decisions over the
	// task classes (0/0, 1/1, 0/1).
	Confusion [genotype.TaskClasses][genotype.TaskClasses]int `json:"confusion"`
}

// GenotypeAccuracy returns the share of examples on the confusion diagonal.
func (e Evaluation) GenotypeAccuracy() float64 {
	var hit, all int
	for i := range e.Confusion {
		for j, n := range e.Confusion[i] {
			all += n
			if i == j {
				hit += n
			}
		}
	}
	if all == 0 {
		return 0
	}
	return float64(hit) / float64(all)
}

// Evaluate runs m over every row of data in stored block order. The genotype
// head is located with heads.
func Evaluate(ctx context.Context, m model.Model, data *dataset.Dataset, batch int, heads model.Heads) (Evaluation, error) {
	var ev Evaluation
	var sum model.Losses
	order := dataset.IdentityOrder(data.Blocks())
	provider := NewBatchProvider(data, batch, batch)

	for cursor := 0; ; {
		if err := ctx.Err(); err != nil {
			return ev, err
		}
		// A zero boundary keeps every batch on the validation sizing rules.
		b, ok, err := provider.Next(cursor, 0, order)
		if err != nil {
			return ev, err
		}
		if !ok {
			break
		}

		l, err := m.Evaluate(b.X, b.Y)
		if err != nil {
			return ev, err
		}
		sum = sum.Add(l)

		pred, err := m.Predict(b.X)
		if err != nil {
			return ev, err
		}
		off, n := heads.GenotypeOffset(), heads.Genotype
		if n > genotype.TaskClasses {
			n = genotype.TaskClasses
		}
		for r := 0; r < b.Count; r++ {
			truth := argmax(b.Y.Row(r)[off : off+n])
			guess := argmax(pred.Row(r)[off : off+n])
			ev.Confusion[truth][guess]++
		}

		ev.Examples += b.Count
		cursor += b.Count
	}
	if ev.Examples > 0 {
		ev.Losses = sum.Scale(1 / float64(ev.Examples))
	}
	return ev, nil
}

func argmax(v []float32) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
