package simulation

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// BetaSampler draws values in [0,1] from a Beta(alpha, beta) distribution.
type BetaSampler interface {
	SampleBeta(alpha, beta float64) float64
}

// UniformDrawer is implemented by samplers that can reproduce the legacy
// uniform draw made before every beta draw.
type UniformDrawer interface {
	Uniform() float64
}

// SamplerFactory returns an independent sampler for one stream. Streams let
// concurrent trial chunks draw without sharing state.
type SamplerFactory func(stream uint64) BetaSampler

// GonumSampler samples through gonum's distuv over a PCG source.
type GonumSampler struct {
	src rand.Source
	rng *rand.Rand
}

// NewGonumSampler constructs one sampler seeded by (seed, stream).
func NewGonumSampler(seed, stream uint64) *GonumSampler {
	src := rand.NewPCG(seed, stream)
	return &GonumSampler{
		src: src,
		rng: rand.New(src),
	}
}

// SampleBeta draws one Beta(alpha, beta) value.
func (s *GonumSampler) SampleBeta(alpha, beta float64) float64 {
	return distuv.Beta{Alpha: alpha, Beta: beta, Src: s.src}.Rand()
}

// Uniform draws one Uniform(0,1) value from the same stream.
func (s *GonumSampler) Uniform() float64 {
	return s.rng.Float64()
}

// GonumSamplerFactory returns a factory of gonum samplers sharing one seed.
func GonumSamplerFactory(seed uint64) SamplerFactory {
	return func(stream uint64) BetaSampler {
		return NewGonumSampler(seed, stream)
	}
}

// NewSeed generates a run seed using crypto/rand.
func NewSeed() (uint64, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read random seed: %w", err)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}
