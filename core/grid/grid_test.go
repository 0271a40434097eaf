package grid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrap(t *testing.T) {
	assert.Equal(t, Coordinate{X: 0, Y: 19}, Wrap(20, -1))
	assert.Equal(t, Coordinate{X: 1, Y: 0}, Wrap(-39, 40))
	assert.True(t, Wrap(-5, 123).Valid())
}

func TestDistanceSymmetryAndWrap(t *testing.T) {
	for x1 := 0; x1 < Size; x1 += 3 {
		for y1 := 0; y1 < Size; y1 += 4 {
			a := Coordinate{X: x1, Y: y1}
			for x2 := 0; x2 < Size; x2 += 5 {
				for y2 := 0; y2 < Size; y2 += 2 {
					b := Coordinate{X: x2, Y: y2}
					d := Distance(a, b)
					if d != Distance(b, a) {
						t.Fatalf("distance not symmetric for %v %v", a, b)
					}
					shifted := Wrap(b.X+Size, b.Y-Size)
					if d != Distance(a, shifted) {
						t.Fatalf("wrap changed distance for %v %v", a, b)
					}
					if d > Size {
						t.Fatalf("distance %d exceeds bound", d)
					}
				}
			}
		}
	}
}

func TestDistanceUsesShortestWay(t *testing.T) {
	assert.Equal(t, 2, Distance(Coordinate{X: 0, Y: 0}, Coordinate{X: 19, Y: 19}))
	assert.Equal(t, 20, Distance(Coordinate{X: 0, Y: 0}, Coordinate{X: 10, Y: 10}))
	assert.Equal(t, 0, Distance(Coordinate{X: 4, Y: 4}, Coordinate{X: 4, Y: 4}))
}

func TestNextStep(t *testing.T) {
	tests := []struct {
		name     string
		from, to Coordinate
		want     Coordinate
	}{
		{"diagonal", Coordinate{0, 0}, Coordinate{3, 3}, Coordinate{1, 1}},
		{"straight", Coordinate{5, 5}, Coordinate{9, 5}, Coordinate{6, 5}},
		{"across edge", Coordinate{0, 0}, Coordinate{19, 0}, Coordinate{19, 0}},
		{"arrived", Coordinate{7, 2}, Coordinate{7, 2}, Coordinate{7, 2}},
		{"first minimum wins", Coordinate{5, 5}, Coordinate{6, 6}, Coordinate{6, 6}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextStep(tt.from, tt.to))
		})
	}
}

func TestNextStepConverges(t *testing.T) {
	from := Coordinate{X: 2, Y: 17}
	to := Coordinate{X: 15, Y: 4}
	steps := 0
	for from != to {
		next := NextStep(from, to)
		if Distance(next, to) >= Distance(from, to) {
			t.Fatalf("step from %v did not get closer", from)
		}
		from = next
		steps++
	}
	assert.LessOrEqual(t, steps, Size)
}

func TestStringIsOneBased(t *testing.T) {
	assert.Equal(t, "(1,20)", Coordinate{X: 0, Y: 19}.String())
}
