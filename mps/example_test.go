package mps_test

import (
	"fmt"
	"math"

	"github.com/gharib85/HamiltonianPy/mps"
)

// Canonicalize the four site state with alternating spins and read back its
// only nonzero amplitude.
func Example() {
	state := make([]float64, 16)
	state[0b0101] = 1

	m, err := mps.FromVector(state, []int{2, 2, 2, 2})
	if err != nil {
		panic(err)
	}
	if err := m.Canonicalize(2); err != nil {
		panic(err)
	}

	norm, err := m.Norm()
	if err != nil {
		panic(err)
	}
	fmt.Printf("norm %.4f\n", norm)

	oks, err := m.IsCanonical(1e-12)
	if err != nil {
		panic(err)
	}
	fmt.Printf("canonical %v\n", oks)

	dense, err := m.State()
	if err != nil {
		panic(err)
	}
	fmt.Printf("amplitude %.4f\n", math.Abs(dense.At(0b0101, 0)))

	// Output:
	// norm 1.0000
	// canonical [true true true true]
	// amplitude 1.0000
}
