package cube

import (
	"fmt"
)

// Pos holds the position of a tile in the world. The position is represented
// by an x, y and z integer coordinate.
type Pos [3]int

// X returns the X coordinate of the tile position.
func (p Pos) X() int {
	return p[0]
}

// Y returns the Y coordinate of the tile position.
func (p Pos) Y() int {
	return p[1]
}

// Z returns the Z coordinate of the tile position.
func (p Pos) Z() int {
	return p[2]
}

// String converts the Pos to a string in the format (1,2,3) and returns it.
func (p Pos) String() string {
	return fmt.Sprintf("(%v,%v,%v)", p[0], p[1], p[2])
}

// Add adds two positions together and returns a new one with the combined
// values.
func (p Pos) Add(pos Pos) Pos {
	return Pos{p[0] + pos[0], p[1] + pos[1], p[2] + pos[2]}
}

// Side returns the position on the side of this tile position, at a specific
// face.
func (p Pos) Side(face Face) Pos {
	switch face {
	case FaceUp:
		p[1]++
	case FaceDown:
		p[1]--
	case FaceNorth:
		p[2]--
	case FaceSouth:
		p[2]++
	case FaceWest:
		p[0]--
	case FaceEast:
		p[0]++
	}
	return p
}

// Face returns the face that the other position passed shows compared to the
// current position. It panics if the positions do not border each other.
func (p Pos) Face(other Pos) Face {
	for _, f := range Faces() {
		if p.Side(f) == other {
			return f
		}
	}
	panic("invalid position passed: must border the current position")
}

// Neighbours calls the function passed for each of the tile's 26 neighbouring
// positions, the 3x3x3 cube surrounding the position minus the position
// itself.
func (p Pos) Neighbours(f func(neighbour Pos)) {
	for x := -1; x <= 1; x++ {
		for y := -1; y <= 1; y++ {
			for z := -1; z <= 1; z++ {
				if x == 0 && y == 0 && z == 0 {
					continue
				}
				f(Pos{p[0] + x, p[1] + y, p[2] + z})
			}
		}
	}
}
