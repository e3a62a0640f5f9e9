// Package genotype defines the closed set of diploid genotype classes used by
// the model's genotype head.
package genotype

import "fmt"

// Genotype is a diploid call class.
type Genotype uint8

const (
	HomoReference      Genotype = 0 // 0/0
	HomoVariant        Genotype = 1 // 1/1
	HeteroVariant      Genotype = 2 // 0/1, also 1/2 for the genotype task
	HeteroVariantMulti Genotype = 3 // 1/2
)

// TaskClasses is the number of classes the genotype head predicts. Multi-allelic
// heterozygous calls fold into HeteroVariant.
const TaskClasses = 3

var genotypeStrings = map[Genotype]string{
	HomoReference:      "0/0",
	HomoVariant:        "1/1",
	HeteroVariant:      "0/1",
	HeteroVariantMulti: "1/2",
}

var genotypeNames = map[Genotype]string{
	HomoReference:      "homo_reference",
	HomoVariant:        "homo_variant",
	HeteroVariant:      "hetero_variant",
	HeteroVariantMulti: "hetero_variant_multi",
}

// String returns the VCF GT rendering, or "" for an unknown value.
func (g Genotype) String() string {
	return genotypeStrings[g]
}

// Name returns the symbolic class name.
func (g Genotype) Name() string {
	if n, ok := genotypeNames[g]; ok {
		return n
	}
	return fmt.Sprintf("genotype(%d)", uint8(g))
}

// Valid reports whether g is one of the four defined classes.
func (g Genotype) Valid() bool {
	_, ok := genotypeStrings[g]
	return ok
}

// FromAlleles classifies a pair of allele indices where 0 is the reference.
func FromAlleles(a1, a2 int) Genotype {
	switch {
	case a1 == 0 && a2 == 0:
		return HomoReference
	case a1 == a2:
		return HomoVariant
	case a1 != 0 && a2 != 0:
		return HeteroVariantMulti
	default:
		return HeteroVariant
	}
}

// ForTask maps g onto the classes predicted by the genotype head.
func ForTask(g Genotype) Genotype {
	if g == HeteroVariantMulti {
		return HeteroVariant
	}
	return g
}
