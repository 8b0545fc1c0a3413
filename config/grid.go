package config

import (
	"fmt"
	"math"
)

// Range is one swept option: every value from Min to Max inclusive, Step apart.
type Range struct {
	Name string
	Min  float64
	Max  float64
	Step float64
}

// Values expands the range. Accumulated float error is rounded away so
// 1.0..2.0 step 0.2 yields exactly six points.
func (r Range) Values() []float64 {
	if r.Step <= 0 || r.Max < r.Min {
		return nil
	}
	n := int(math.Floor((r.Max-r.Min)/r.Step+1e-9)) + 1
	out := make([]float64, n)
	for i := range out {
		v := r.Min + float64(i)*r.Step
		out[i] = math.Round(v*1e9) / 1e9
	}
	return out
}

// Grid is the cartesian product of its ranges.
type Grid []Range

// DefaultGrid is the sweep used by the parameter optimizer.
func DefaultGrid() Grid {
	return Grid{
		{Name: "signal_num", Min: 2, Max: 3, Step: 1},
		{Name: "atr_length", Min: 10, Max: 20, Step: 2},
		{Name: "atr_multiplier", Min: 1.5, Max: 3.5, Step: 0.5},
		{Name: "adx_length", Min: 10, Max: 20, Step: 2},
		{Name: "adx_threshold", Min: 15, Max: 30, Step: 5},
		{Name: "volume_window", Min: 10, Max: 30, Step: 5},
		{Name: "volume_multiplier", Min: 1.0, Max: 2.0, Step: 0.2},
	}
}

// Size is the number of points the grid enumerates.
func (g Grid) Size() int {
	if len(g) == 0 {
		return 0
	}
	n := 1
	for _, r := range g {
		n *= len(r.Values())
	}
	return n
}

func (g Grid) check() error {
	idx := fieldIndex()
	seen := make(map[string]bool, len(g))
	for _, r := range g {
		if _, ok := idx[r.Name]; !ok {
			return fmt.Errorf("%w: grid sweeps unknown option %q", ErrInvalidParameter, r.Name)
		}
		if seen[r.Name] {
			return fmt.Errorf("%w: grid sweeps %q twice", ErrInvalidParameter, r.Name)
		}
		seen[r.Name] = true
		if r.Step <= 0 || r.Max < r.Min {
			return fmt.Errorf("%w: grid range %q is empty (min=%v max=%v step=%v)",
				ErrInvalidParameter, r.Name, r.Min, r.Max, r.Step)
		}
	}
	return nil
}

// Each calls fn with every grid point applied on top of base, in
// lexicographic order of the ranges (last range varies fastest). Each
// point is validated; the first invalid point or fn error stops the walk.
func (g Grid) Each(base Params, fn func(Params) error) error {
	if err := g.check(); err != nil {
		return err
	}
	if len(g) == 0 {
		return nil
	}
	values := make([][]float64, len(g))
	for i, r := range g {
		values[i] = r.Values()
	}
	pos := make([]int, len(g))
	point := make(map[string]float64, len(g))
	for {
		for i, r := range g {
			point[r.Name] = values[i][pos[i]]
		}
		p, err := Overlay(base, point)
		if err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
		i := len(g) - 1
		for ; i >= 0; i-- {
			pos[i]++
			if pos[i] < len(values[i]) {
				break
			}
			pos[i] = 0
		}
		if i < 0 {
			return nil
		}
	}
}
