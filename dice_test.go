package server

import (
	"math/rand"
	"testing"
)

func TestDefaultRollFormulas(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	cases := []struct {
		formula  string
		count    int
		maxSide  int
		modifier int
	}{
		{"2d6", 2, 6, 0},
		{"d20", 1, 20, 0},
		{"4d8+3", 4, 8, 3},
		{"1d100-2", 1, 100, -2},
		{" 3D6 ", 3, 6, 0},
	}

	for _, tc := range cases {
		results, modifier, err := DefaultRoll(tc.formula, rng)
		if err != nil {
			t.Fatalf("%q: %v", tc.formula, err)
		}
		if len(results) != tc.count {
			t.Fatalf("%q rolled %d dice, want %d", tc.formula, len(results), tc.count)
		}
		for _, r := range results {
			if r < 1 || r > tc.maxSide {
				t.Fatalf("%q produced out-of-range die %d", tc.formula, r)
			}
		}
		if modifier != tc.modifier {
			t.Fatalf("%q modifier = %d, want %d", tc.formula, modifier, tc.modifier)
		}
	}
}

func TestDefaultRollRejectsMalformed(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for _, formula := range []string{
		"",
		"banana",
		"2x6",
		"0d6",
		"101d6",
		"2d1",
		"2d1001",
		"2d6+bacon",
	} {
		if _, _, err := DefaultRoll(formula, rng); err == nil {
			t.Fatalf("%q was accepted", formula)
		}
	}
}
