package lsh

import "math/rand/v2"

const (
	// BandSize is the number of sign bits hashed together into one bucket.
	BandSize = 4

	// projectionSeed is XORed with the dimension so that every index built
	// for the same dimension draws the same hyperplanes.
	projectionSeed uint64 = 0x9E3779B97F4A7C15
	projectionSeq  uint64 = 0xD1B54A32D192ED03
)

// HyperplaneCount returns the number of hyperplanes used for dim.
func HyperplaneCount(dim int) int {
	switch {
	case dim <= 64:
		return 16
	case dim <= 192:
		return 20
	case dim <= 512:
		return 24
	default:
		return 28
	}
}

// Projection is the hyperplane matrix for one dimension.
type Projection struct {
	Dim    int
	Planes [][]float32
}

// NewProjection draws HyperplaneCount(dim) hyperplanes with components in
// [-1, 1) from a PCG generator seeded by the dimension.
func NewProjection(dim int) *Projection {
	r := rand.New(rand.NewPCG(projectionSeed^uint64(dim), projectionSeq))
	planes := make([][]float32, HyperplaneCount(dim))
	for i := range planes {
		row := make([]float32, dim)
		for j := range row {
			row[j] = float32(r.Float64()*2 - 1)
		}
		planes[i] = row
	}
	return &Projection{Dim: dim, Planes: planes}
}

// Bits returns one sign bit per hyperplane: 1 when the dot product is >= 0.
func (p *Projection) Bits(v []float32) []bool {
	bits := make([]bool, len(p.Planes))
	for i, plane := range p.Planes {
		var dot float64
		for j := range plane {
			dot += float64(plane[j]) * float64(v[j])
		}
		bits[i] = dot >= 0
	}
	return bits
}

// Keys groups the sign bits of v into bands of BandSize and returns one
// bucket key per band. The band index lives in the high 32 bits so keys are
// unique per (band, value) pair.
func (p *Projection) Keys(v []float32) []uint64 {
	bits := p.Bits(v)
	keys := make([]uint64, 0, (len(bits)+BandSize-1)/BandSize)
	for band := 0; band*BandSize < len(bits); band++ {
		var value uint64
		for i := band * BandSize; i < min(len(bits), (band+1)*BandSize); i++ {
			value <<= 1
			if bits[i] {
				value |= 1
			}
		}
		keys = append(keys, uint64(band)<<32|value)
	}
	return keys
}
