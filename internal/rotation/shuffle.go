package rotation

import (
	"math/bits"
	"math/rand"
)

// SeedSource produces install seeds.
type SeedSource func() uint64

// RandomSeed draws a uniformly random 64-bit seed.
func RandomSeed() uint64 {
	return rand.Uint64()
}

// lcg is the linear-congruential generator that expands a seed into a permutation.
type lcg struct {
	state uint64
}

func (g *lcg) next() uint64 {
	g.state = g.state*1103515245 + 12345
	return g.state
}

// below returns a value in [0, bound) taken from the high bits of the next output.
func (g *lcg) below(bound uint64) uint64 {
	hi, _ := bits.Mul64(g.next(), bound)
	return hi
}

// Permutation shuffles ids with a Fisher-Yates pass driven by seed. The same
// seed and input always produce the same output; ids is left untouched.
func Permutation(ids []int, seed uint64) []int {
	shuffled := append([]int(nil), ids...)
	generator := lcg{state: seed}
	for i := len(shuffled) - 1; i > 0; i-- {
		j := int(generator.below(uint64(i + 1)))
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	return shuffled
}
