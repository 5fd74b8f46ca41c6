package collage

import (
	"math"
	"math/rand"
	"sort"

	"tessera/internal/errors"
)

// Slot is a cell of the base grid.
type Slot struct {
	Row, Col int
}

// Assignment maps every slot, in row-major order, to an index into the
// candidate pool. Order is the sequence in which slots were filled.
type Assignment struct {
	Rows, Cols int
	Slots      []int
	Order      []Slot
}

// At returns the pool index assigned to (row, col).
func (a Assignment) At(row, col int) int {
	return a.Slots[row*a.Cols+col]
}

// Strategy fills a rows×cols grid from a candidate pool. The set of
// strategies is closed; use StrategyFor to obtain one.
type Strategy interface {
	Mode() Mode
	assign(rows, cols int, pool []Tile, rng *rand.Rand) Assignment
}

type greedyStrategy struct{}
type waveStrategy struct{}
type randomStrategy struct{}

func (greedyStrategy) Mode() Mode { return ModeGreedy }
func (waveStrategy) Mode() Mode   { return ModeWave }
func (randomStrategy) Mode() Mode { return ModeRandom }

// StrategyFor returns the strategy implementing mode.
func StrategyFor(mode Mode) (Strategy, error) {
	switch mode {
	case ModeGreedy:
		return greedyStrategy{}, nil
	case ModeWave:
		return waveStrategy{}, nil
	case ModeRandom:
		return randomStrategy{}, nil
	default:
		return nil, errors.Validation("unknown mode %q", mode)
	}
}

// Assign runs s over the pool. The pool must be non-empty.
func Assign(s Strategy, rows, cols int, pool []Tile, rng *rand.Rand) (Assignment, error) {
	if rows <= 0 || cols <= 0 {
		return Assignment{}, errors.Validation("grid must be positive, got rows=%d cols=%d", rows, cols)
	}
	if len(pool) == 0 {
		return Assignment{}, errors.Validation("candidate pool is empty")
	}
	return s.assign(rows, cols, pool, rng), nil
}

// BuildPool collects candidate tiles in input order, row-major within each
// image. Tiles of the base image are included only when allowSelf is set.
func BuildPool(ts *TileSet, base int, allowSelf bool) []Tile {
	var pool []Tile
	for s, tiles := range ts.Tiles {
		if s == base && !allowSelf {
			continue
		}
		pool = append(pool, tiles...)
	}
	return pool
}

func rowMajor(rows, cols int) []Slot {
	order := make([]Slot, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			order = append(order, Slot{r, c})
		}
	}
	return order
}

// waveOrder visits slots by Manhattan distance from the center cell, ties
// broken by row then column.
func waveOrder(rows, cols int) []Slot {
	order := rowMajor(rows, cols)
	cr, cc := rows/2, cols/2
	dist := func(s Slot) int { return abs(s.Row-cr) + abs(s.Col-cc) }
	sort.SliceStable(order, func(i, j int) bool {
		di, dj := dist(order[i]), dist(order[j])
		if di != dj {
			return di < dj
		}
		if order[i].Row != order[j].Row {
			return order[i].Row < order[j].Row
		}
		return order[i].Col < order[j].Col
	})
	return order
}

func (greedyStrategy) assign(rows, cols int, pool []Tile, rng *rand.Rand) Assignment {
	return matchNeighbors(rows, cols, rowMajor(rows, cols), pool, rng)
}

func (waveStrategy) assign(rows, cols int, pool []Tile, rng *rand.Rand) Assignment {
	return matchNeighbors(rows, cols, waveOrder(rows, cols), pool, rng)
}

// Random assignment reuses candidates cyclically when the pool is smaller
// than the grid.
func (randomStrategy) assign(rows, cols int, pool []Tile, rng *rand.Rand) Assignment {
	idx := make([]int, len(pool))
	for i := range idx {
		idx[i] = i
	}
	rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

	a := Assignment{Rows: rows, Cols: cols, Slots: make([]int, rows*cols), Order: rowMajor(rows, cols)}
	for i := range a.Slots {
		a.Slots[i] = idx[i%len(idx)]
	}
	return a
}

// matchNeighbors fills slots in the given order, picking for each the unused
// candidate whose edges best match the already placed neighbors. Once the
// pool is exhausted, the i-th visited slot takes candidate i mod len(pool).
func matchNeighbors(rows, cols int, order []Slot, pool []Tile, rng *rand.Rand) Assignment {
	a := Assignment{Rows: rows, Cols: cols, Slots: make([]int, rows*cols), Order: order}
	for i := range a.Slots {
		a.Slots[i] = -1
	}
	used := make([]bool, len(pool))
	remaining := len(pool)

	placed := func(r, c int) (EdgeColorProfile, bool) {
		if r < 0 || r >= rows || c < 0 || c >= cols {
			return EdgeColorProfile{}, false
		}
		i := a.Slots[r*cols+c]
		if i < 0 {
			return EdgeColorProfile{}, false
		}
		return pool[i].Profile, true
	}

	for step, s := range order {
		if remaining == 0 {
			a.Slots[s.Row*cols+s.Col] = step % len(pool)
			continue
		}

		var nbs [4]EdgeColorProfile
		var have [4]bool
		nbs[0], have[0] = placed(s.Row, s.Col-1)
		nbs[1], have[1] = placed(s.Row, s.Col+1)
		nbs[2], have[2] = placed(s.Row-1, s.Col)
		nbs[3], have[3] = placed(s.Row+1, s.Col)

		best, bestScore := -1, math.Inf(1)
		for ci, cand := range pool {
			if used[ci] {
				continue
			}
			score := edgeScore(cand.Profile, nbs, have, rng)
			if score < bestScore {
				best, bestScore = ci, score
			}
		}
		a.Slots[s.Row*cols+s.Col] = best
		used[best] = true
		remaining--
	}
	return a
}

// edgeScore averages the seam distances to the placed neighbors (left,
// right, top, bottom) and adds a small random tie-breaker. With no placed
// neighbor the candidate is scored by how close its center is to mid gray.
func edgeScore(p EdgeColorProfile, nbs [4]EdgeColorProfile, have [4]bool, rng *rand.Rand) float64 {
	var sum float64
	n := 0
	if have[0] {
		sum += Distance(p.Left, nbs[0].Right)
		n++
	}
	if have[1] {
		sum += Distance(p.Right, nbs[1].Left)
		n++
	}
	if have[2] {
		sum += Distance(p.Top, nbs[2].Bottom)
		n++
	}
	if have[3] {
		sum += Distance(p.Bottom, nbs[3].Top)
		n++
	}
	if n == 0 {
		return Distance(p.Center, gray128) + rng.Float64()*5
	}
	return sum/float64(n) + rng.Float64()*0.1
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
