// Package grid implements the fixed toroidal city map: coordinates that wrap
// at the edges, the wrapped distance metric and the greedy single-step move
// used by taxis to approach their objective.
package grid

import "fmt"

// Size is the side length of the square map.
const Size = 20

// Coordinate is a zero-based cell on the map.
type Coordinate struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Wrap normalises any integer pair onto the map.
func Wrap(x, y int) Coordinate {
	return Coordinate{X: mod(x), Y: mod(y)}
}

// Valid reports whether c already lies on the map.
func (c Coordinate) Valid() bool {
	return c.X >= 0 && c.X < Size && c.Y >= 0 && c.Y < Size
}

// Add moves c by (dx, dy) and wraps the result.
func (c Coordinate) Add(dx, dy int) Coordinate {
	return Wrap(c.X+dx, c.Y+dy)
}

// String prints the coordinate one-based, the way operators read the map.
func (c Coordinate) String() string {
	return fmt.Sprintf("(%d,%d)", c.X+1, c.Y+1)
}

func mod(v int) int {
	v %= Size
	if v < 0 {
		v += Size
	}
	return v
}

func axis(a, b int) int {
	d := a - b
	if d < 0 {
		d = -d
	}
	d %= Size
	if Size-d < d {
		return Size - d
	}
	return d
}

// Distance returns the wrapped Manhattan distance between a and b.
func Distance(a, b Coordinate) int {
	return axis(a.X, b.X) + axis(a.Y, b.Y)
}

// Moves lists the candidate neighbour offsets in evaluation order.
var Moves = [8][2]int{
	{1, 1}, {1, 0}, {1, -1}, {0, -1},
	{-1, -1}, {-1, 0}, {-1, 1}, {0, 1},
}

// NextStep returns the neighbour of from that gets closest to to. The first
// candidate with the smallest distance wins. If from equals to, from is
// returned unchanged.
func NextStep(from, to Coordinate) Coordinate {
	best := from
	bestDist := Distance(from, to)
	for _, m := range Moves {
		next := from.Add(m[0], m[1])
		if d := Distance(next, to); d < bestDist {
			best, bestDist = next, d
		}
	}
	return best
}
