package genotype

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	assert.Equal(t, "0/0", HomoReference.String())
	assert.Equal(t, "1/1", HomoVariant.String())
	assert.Equal(t, "0/1", HeteroVariant.String())
	assert.Equal(t, "1/2", HeteroVariantMulti.String())
	assert.Equal(t, "", Genotype(9).String())
	assert.False(t, Genotype(9).Valid())
	assert.Equal(t, "genotype(9)", Genotype(9).Name())
	assert.Equal(t, "hetero_variant_multi", HeteroVariantMulti.Name())
}

func TestFromAlleles(t *testing.T) {
	tests := []struct {
		a1, a2 int
		want   Genotype
	}{
		{0, 0, HomoReference},
		{1, 1, HomoVariant},
		{2, 2, HomoVariant},
		{0, 1, HeteroVariant},
		{1, 0, HeteroVariant},
		{1, 2, HeteroVariantMulti},
		{2, 1, HeteroVariantMulti},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FromAlleles(tt.a1, tt.a2), "%d/%d", tt.a1, tt.a2)
	}
}

func TestForTask(t *testing.T) {
	assert.Equal(t, HeteroVariant, ForTask(HeteroVariantMulti))
	for _, g := range []Genotype{HomoReference, HomoVariant, HeteroVariant} {
		assert.Equal(t, g, ForTask(g))
		assert.Less(t, int(ForTask(g)), TaskClasses)
	}
}
