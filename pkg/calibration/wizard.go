package calibration

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"bookcabinet/pkg/kinematics"
)

// StepsPerMM converts operator jog distances to motor steps.
const StepsPerMM = 42.3

// JogSizesMM are the discrete jog step sizes offered by the positions wizard.
var JogSizesMM = []int{1, 2, 5, 10, 15, 20, 30, 50, 100}

// Position wizard commit points.
var PositionPoints = []string{"X0", "X1", "X2", "Y0", "Y1", "Y5", "Y10", "Y15", "Y20", "verify"}

// Wizard errors.
var (
	ErrWizardInactive = errors.New("calibration: wizard not active")
	ErrWizardMode     = errors.New("calibration: wrong wizard mode")
	ErrNotDiagonal    = errors.New("calibration: answer must be a diagonal")
)

// Mode selects which wizard is running.
type Mode string

const (
	ModeNone       Mode = ""
	ModeKinematics Mode = "kinematics"
	ModePositions  Mode = "positions"
	ModeGrab       Mode = "grab"
)

// Jogger is the narrow motion surface the wizard drives.
type Jogger interface {
	// JogXY moves the carriage by a relative cartesian step delta.
	JogXY(dx, dy int) error

	// StepMotor steps a single motor ("a" or "b") in isolation by the
	// signed step count, bypassing CoreXY translation.
	StepMotor(motor string, steps int) error

	// MoveTray moves the tray by a signed step count (positive extends).
	MoveTray(steps int) error

	// Position returns the current carriage position in steps.
	Position() (x, y int)
}

// kinStep describes one step of the kinematics wizard.
type kinStep struct {
	Motor string
	Dir   int
}

var kinSequence = []kinStep{
	{Motor: "a", Dir: 1},
	{Motor: "a", Dir: -1},
	{Motor: "b", Dir: 1},
	{Motor: "b", Dir: -1},
}

// kinProbeSteps is how far each wizard probe moves a motor.
const kinProbeSteps = 200

// Wizard runs the three interactive calibration flows against the store.
type Wizard struct {
	mu    sync.Mutex
	store *Store
	jog   Jogger

	mode Mode

	// Kinematics state: observed diagonals per sequence step.
	kinIndex int
	kinDiags [][2]int

	// Position state: staged commits by point name.
	points map[string]int

	// Grab state.
	grabSide string
	grab     Grab
}

// NewWizard binds a wizard to the calibration store and motion surface.
func NewWizard(store *Store, jog Jogger) *Wizard {
	return &Wizard{store: store, jog: jog}
}

// Mode returns the active wizard mode.
func (w *Wizard) Mode() Mode {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.mode
}

// Cancel abandons any in-progress wizard without persisting.
func (w *Wizard) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reset()
}

func (w *Wizard) reset() {
	w.mode = ModeNone
	w.kinIndex = 0
	w.kinDiags = nil
	w.points = nil
	w.grabSide = ""
}

// --- kinematics wizard ---

// StartKinematics begins the four-step direction-sign discovery.
func (w *Wizard) StartKinematics() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reset()
	w.mode = ModeKinematics
	w.kinDiags = make([][2]int, 0, len(kinSequence))
	return nil
}

// KinematicsStep steps the current motor and returns which probe just ran
// (step index, motor, direction). The operator then answers with the
// observed travel diagonal.
func (w *Wizard) KinematicsStep() (step int, motor string, dir int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.mode != ModeKinematics {
		return 0, "", 0, ErrWizardMode
	}
	if w.kinIndex >= len(kinSequence) {
		return 0, "", 0, fmt.Errorf("calibration: kinematics wizard already complete")
	}
	probe := kinSequence[w.kinIndex]
	if err := w.jog.StepMotor(probe.Motor, probe.Dir*kinProbeSteps); err != nil {
		return 0, "", 0, err
	}
	return w.kinIndex, probe.Motor, probe.Dir, nil
}

// KinematicsAnswer records the observed compass diagonal for the current
// probe. After the fourth answer the four direction signs are computed,
// consistency-checked against the reverse probes and persisted.
func (w *Wizard) KinematicsAnswer(diagonal string) (done bool, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.mode != ModeKinematics {
		return false, ErrWizardMode
	}

	sx, sy, err := parseDiagonal(diagonal)
	if err != nil {
		return false, err
	}
	w.kinDiags = append(w.kinDiags, [2]int{sx, sy})
	w.kinIndex++

	if w.kinIndex < len(kinSequence) {
		return false, nil
	}

	// Reverse probes must travel the opposite diagonal.
	if w.kinDiags[1] != [2]int{-w.kinDiags[0][0], -w.kinDiags[0][1]} ||
		w.kinDiags[3] != [2]int{-w.kinDiags[2][0], -w.kinDiags[2][1]} {
		w.reset()
		return false, fmt.Errorf("%w: forward and reverse probes disagree", ErrValidation)
	}

	signs := kinematics.Signs{
		XPlusDirA: w.kinDiags[0][0],
		YPlusDirA: w.kinDiags[0][1],
		XPlusDirB: w.kinDiags[2][0],
		YPlusDirB: w.kinDiags[2][1],
	}
	if !signs.Valid() {
		w.reset()
		return false, fmt.Errorf("%w: observed diagonals give a singular sign matrix", ErrValidation)
	}

	err = w.store.Update(func(d *Data) { d.Kinematics = signs })
	w.reset()
	return true, err
}

// parseDiagonal maps the eight compass answers to unit components. The
// kinematics wizard only accepts the four diagonals; a cardinal answer
// means a motor or belt problem.
func parseDiagonal(answer string) (sx, sy int, err error) {
	switch answer {
	case "NE":
		return 1, 1, nil
	case "NW":
		return -1, 1, nil
	case "SE":
		return 1, -1, nil
	case "SW":
		return -1, -1, nil
	case "N", "S", "E", "W":
		return 0, 0, ErrNotDiagonal
	default:
		return 0, 0, fmt.Errorf("calibration: unknown compass answer %q", answer)
	}
}

// --- positions wizard ---

// StartPositions begins the ten-point position capture.
func (w *Wizard) StartPositions() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reset()
	w.mode = ModePositions
	w.points = make(map[string]int)
	return nil
}

// Jog moves the carriage by one discrete jog size. dx/dy select direction
// as -1, 0 or +1 per axis.
func (w *Wizard) Jog(sizeMM, dx, dy int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.mode != ModePositions {
		return ErrWizardMode
	}
	allowed := false
	for _, s := range JogSizesMM {
		if s == sizeMM {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("calibration: jog size %d not offered", sizeMM)
	}
	steps := int(math.Round(float64(sizeMM) * StepsPerMM))
	return w.jog.JogXY(dx*steps, dy*steps)
}

// Commit records the current carriage position against a wizard point.
func (w *Wizard) Commit(point string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.mode != ModePositions {
		return ErrWizardMode
	}
	known := false
	for _, p := range PositionPoints {
		if p == point {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("calibration: unknown commit point %q", point)
	}
	if point == "verify" {
		return nil // verify is a sighting move, nothing to record
	}

	x, y := w.jog.Position()
	if point[0] == 'X' {
		w.points[point] = x
	} else {
		w.points[point] = y
	}
	return nil
}

// FinishPositions interpolates the intermediate rows from the committed
// anchor points and persists the full position arrays.
func (w *Wizard) FinishPositions() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.mode != ModePositions {
		return ErrWizardMode
	}

	required := []string{"X0", "X1", "X2", "Y0", "Y1", "Y5", "Y10", "Y15", "Y20"}
	for _, p := range required {
		if _, ok := w.points[p]; !ok {
			return fmt.Errorf("%w: point %s not committed", ErrValidation, p)
		}
	}

	x := []int{w.points["X0"], w.points["X1"], w.points["X2"]}

	y := make([]int, 21)
	y[0] = w.points["Y0"]
	y[1] = w.points["Y1"]
	interpolate(y, 1, w.points["Y1"], 5, w.points["Y5"])
	interpolate(y, 5, w.points["Y5"], 10, w.points["Y10"])
	interpolate(y, 10, w.points["Y10"], 15, w.points["Y15"])
	interpolate(y, 15, w.points["Y15"], 20, w.points["Y20"])

	err := w.store.Update(func(d *Data) {
		d.Positions.X = x
		d.Positions.Y = y
	})
	if err != nil {
		return err
	}
	w.reset()
	return nil
}

// interpolate fills y[from..to] linearly between the two anchors.
func interpolate(y []int, from, fromVal, to, toVal int) {
	span := to - from
	for i := from; i <= to; i++ {
		y[i] = fromVal + (toVal-fromVal)*(i-from)/span
	}
}

// --- grab wizard ---

// StartGrab begins grab tuning for "front" or "back".
func (w *Wizard) StartGrab(side string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if side != "front" && side != "back" {
		return fmt.Errorf("calibration: unknown grab side %q", side)
	}
	w.reset()
	w.mode = ModeGrab
	w.grabSide = side
	data := w.store.Get()
	if side == "back" {
		w.grab = data.GrabBack
	} else {
		w.grab = data.GrabFront
	}
	return nil
}

// AdjustGrab changes one staged grab parameter by delta steps.
func (w *Wizard) AdjustGrab(param string, delta int) (Grab, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.mode != ModeGrab {
		return Grab{}, ErrWizardMode
	}
	var target *int
	switch param {
	case "extend1":
		target = &w.grab.Extend1
	case "retract":
		target = &w.grab.Retract
	case "extend2":
		target = &w.grab.Extend2
	default:
		return Grab{}, fmt.Errorf("calibration: unknown grab parameter %q", param)
	}
	next := *target + delta
	if next < 0 || next > MaxGrabSteps {
		return w.grab, fmt.Errorf("%w: %s would leave [0, %d]", ErrValidation, param, MaxGrabSteps)
	}
	*target = next
	return w.grab, nil
}

// TestGrab runs a single staged parameter as a tray move so the operator
// can watch the result: extend parameters move out and back, retract moves
// in and back out.
func (w *Wizard) TestGrab(param string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.mode != ModeGrab {
		return ErrWizardMode
	}
	var steps int
	switch param {
	case "extend1":
		steps = w.grab.Extend1
	case "retract":
		steps = -w.grab.Retract
	case "extend2":
		steps = w.grab.Extend2
	default:
		return fmt.Errorf("calibration: unknown grab parameter %q", param)
	}
	if err := w.jog.MoveTray(steps); err != nil {
		return err
	}
	return w.jog.MoveTray(-steps)
}

// SaveGrab persists the staged grab parameters for the chosen side.
func (w *Wizard) SaveGrab() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.mode != ModeGrab {
		return ErrWizardMode
	}
	side := w.grabSide
	grab := w.grab
	err := w.store.Update(func(d *Data) {
		if side == "back" {
			d.GrabBack = grab
		} else {
			d.GrabFront = grab
		}
	})
	if err != nil {
		return err
	}
	w.reset()
	return nil
}
