package kinematics

// Path planning constants, in motor steps.
const (
	// MaxDiagonalStep is the largest delta allowed to travel as a single
	// direct move. Anything longer takes the L-shaped path.
	MaxDiagonalStep = 500

	// WaypointSpacing is the maximum distance between waypoints on a long
	// leg, so the safe-move supervisor can re-check limit switches at
	// sub-distances.
	WaypointSpacing = 2000
)

// Point is an absolute carriage position in steps.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// PlanPath expands a move into waypoints. Short moves travel directly;
// long moves take a fixed L-shaped path traversing Y first, then X, with
// each leg subdivided so no segment exceeds WaypointSpacing. Every waypoint
// lies within the axis-aligned bounding box of start and end.
func PlanPath(start, end Point) []Point {
	dx := abs(end.X - start.X)
	dy := abs(end.Y - start.Y)

	if dx < MaxDiagonalStep && dy < MaxDiagonalStep {
		return []Point{end}
	}

	var path []Point

	// Y leg first, then X. The order is fixed, not cost-based.
	corner := Point{X: start.X, Y: end.Y}
	path = appendLeg(path, start, corner)
	path = appendLeg(path, corner, end)
	return path
}

// appendLeg subdivides a single-axis leg into waypoints no more than
// WaypointSpacing apart, ending exactly at to. A zero-length leg adds
// nothing.
func appendLeg(path []Point, from, to Point) []Point {
	if from == to {
		return path
	}

	dx := to.X - from.X
	dy := to.Y - from.Y
	dist := abs(dx) + abs(dy) // one of them is zero

	for travelled := WaypointSpacing; travelled < dist; travelled += WaypointSpacing {
		wp := Point{
			X: from.X + scale(dx, travelled, dist),
			Y: from.Y + scale(dy, travelled, dist),
		}
		path = append(path, wp)
	}
	return append(path, to)
}

func scale(delta, travelled, dist int) int {
	if delta == 0 {
		return 0
	}
	if delta > 0 {
		return travelled
	}
	return -travelled
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
