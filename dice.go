package server

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
)

// RollFunc resolves a dice formula into individual die results and a flat
// modifier. The RNG is a pure external collaborator; the core only records
// what it returns.
type RollFunc func(formula string, rng *rand.Rand) (results []int, modifier int, err error)

// DefaultRoll understands the "NdM", "NdM+K" and "NdM-K" formula family.
func DefaultRoll(formula string, rng *rand.Rand) ([]int, int, error) {
	spec := strings.ToLower(strings.TrimSpace(formula))
	if spec == "" {
		return nil, 0, fmt.Errorf("empty dice formula")
	}

	modifier := 0
	if idx := strings.IndexAny(spec, "+-"); idx > 0 {
		mod, err := strconv.Atoi(spec[idx:])
		if err != nil {
			return nil, 0, fmt.Errorf("parse modifier %q: %w", spec[idx:], err)
		}
		modifier = mod
		spec = spec[:idx]
	}

	count, sides, ok := strings.Cut(spec, "d")
	if !ok {
		return nil, 0, fmt.Errorf("formula %q is not of the form NdM", formula)
	}
	n := 1
	if count != "" {
		parsed, err := strconv.Atoi(count)
		if err != nil {
			return nil, 0, fmt.Errorf("parse die count %q: %w", count, err)
		}
		n = parsed
	}
	m, err := strconv.Atoi(sides)
	if err != nil {
		return nil, 0, fmt.Errorf("parse die sides %q: %w", sides, err)
	}
	if n < 1 || n > 100 || m < 2 || m > 1000 {
		return nil, 0, fmt.Errorf("formula %q out of range", formula)
	}

	results := make([]int, n)
	for i := range results {
		results[i] = rng.Intn(m) + 1
	}
	return results, modifier, nil
}
