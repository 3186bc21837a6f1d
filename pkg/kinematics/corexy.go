// Package kinematics implements the cabinet CoreXY math: translation
// between cartesian step deltas and the two gantry motors, the cell-to-steps
// map and the safe path planner.
//
// In CoreXY the two motors jointly drive the carriage; which step pairing
// moves which axis follows from the four direction signs. With the default
// signs, opposite-sign steps move X and equal-sign steps move Y. The four direction
// signs come from the kinematics calibration wizard, which observes the
// diagonal the carriage travels when each motor is stepped in isolation.
package kinematics

import (
	"fmt"

	"bookcabinet/pkg/config"
)

// Signs holds the four CoreXY direction signs, each ±1.
type Signs struct {
	XPlusDirA int `json:"x_plus_dir_a"`
	XPlusDirB int `json:"x_plus_dir_b"`
	YPlusDirA int `json:"y_plus_dir_a"`
	YPlusDirB int `json:"y_plus_dir_b"`
}

// DefaultSigns is the production gantry wiring.
func DefaultSigns() Signs {
	return Signs{XPlusDirA: 1, XPlusDirB: -1, YPlusDirA: 1, YPlusDirB: 1}
}

// Valid reports whether every sign is ±1 and the sign matrix is invertible.
func (s Signs) Valid() bool {
	for _, v := range []int{s.XPlusDirA, s.XPlusDirB, s.YPlusDirA, s.YPlusDirB} {
		if v != 1 && v != -1 {
			return false
		}
	}
	return s.det() != 0
}

func (s Signs) det() int {
	return s.XPlusDirA*s.YPlusDirB - s.YPlusDirA*s.XPlusDirB
}

// ABSteps translates a cartesian step delta into per-motor step counts.
func (s Signs) ABSteps(dx, dy int) (a, b int) {
	a = dx*s.XPlusDirA + dy*s.YPlusDirA
	b = dx*s.XPlusDirB + dy*s.YPlusDirB
	return a, b
}

// Inverse recovers the cartesian delta from per-motor step counts. With the
// default signs this is dx=(a-b)/2, dy=(a+b)/2; the general form inverts the
// sign matrix. Only deltas of matching parity round-trip exactly.
func (s Signs) Inverse(a, b int) (dx, dy int) {
	det := s.det()
	dx = (a*s.YPlusDirB - b*s.YPlusDirA) / det
	dy = (b*s.XPlusDirA - a*s.XPlusDirB) / det
	return dx, dy
}

// Mapper converts cell coordinates to absolute motor steps using the
// calibrated per-column and per-row positions.
type Mapper struct {
	positionsX []int
	positionsY []int
	window     config.CellRef
}

// NewMapper builds a Mapper from calibration snapshot data.
func NewMapper(positionsX, positionsY []int, window config.CellRef) (*Mapper, error) {
	if len(positionsX) != config.Columns {
		return nil, fmt.Errorf("kinematics: positions.x length = %d, want %d", len(positionsX), config.Columns)
	}
	if len(positionsY) != config.Positions {
		return nil, fmt.Errorf("kinematics: positions.y length = %d, want %d", len(positionsY), config.Positions)
	}
	m := &Mapper{
		positionsX: append([]int(nil), positionsX...),
		positionsY: append([]int(nil), positionsY...),
		window:     window,
	}
	return m, nil
}

// CellToSteps returns the absolute step position for a cell. Both rows share
// the same XY position; the row selects the latch side, not the carriage
// target.
func (m *Mapper) CellToSteps(row string, x, y int) (sx, sy int, err error) {
	if row != config.RowFront && row != config.RowBack {
		return 0, 0, fmt.Errorf("kinematics: unknown row %q", row)
	}
	if x < 0 || x >= len(m.positionsX) {
		return 0, 0, fmt.Errorf("kinematics: column %d out of range", x)
	}
	if y < 0 || y >= len(m.positionsY) {
		return 0, 0, fmt.Errorf("kinematics: position %d out of range", y)
	}
	return m.positionsX[x], m.positionsY[y], nil
}

// WindowSteps returns the absolute step position of the delivery window.
func (m *Mapper) WindowSteps() (sx, sy int) {
	sx, sy, _ = m.CellToSteps(m.window.Row, m.window.X, m.window.Y)
	return sx, sy
}
