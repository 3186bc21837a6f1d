package motion

import (
	"fmt"

	"bookcabinet/pkg/calibration"
	"bookcabinet/pkg/kinematics"
	"bookcabinet/pkg/motor"
	"bookcabinet/pkg/sensor"
)

func newMapper(cal calibration.Data) (*kinematics.Mapper, error) {
	return kinematics.NewMapper(cal.Positions.X, cal.Positions.Y, cal.Window)
}

// safeMoveTo wraps every carriage move. The planned path is expanded into
// waypoints; before each segment the supervisor rejects the move if a limit
// switch in the commanded direction is already triggered, and after each
// segment it rejects if a switch off the travel vector tripped
// unexpectedly. An operator stop between segments aborts cooperatively.
func (c *Controller) safeMoveTo(op string, targetX, targetY int) error {
	curX, curY, _ := c.motors.Position()
	path := kinematics.PlanPath(
		kinematics.Point{X: curX, Y: curY},
		kinematics.Point{X: targetX, Y: targetY},
	)

	prev := kinematics.Point{X: curX, Y: curY}
	for _, wp := range path {
		if c.stopReq.Load() {
			return &Error{Code: CodeOperatorStop, Operation: op, Message: "stop requested between segments"}
		}

		dx := wp.X - prev.X
		dy := wp.Y - prev.Y

		before := c.limitSnapshot()

		if sw, hit := limitInDirection(before, dx, dy); hit {
			return &Error{
				Code:      CodeLimitTripped,
				Operation: op,
				Message:   fmt.Sprintf("%s already triggered in commanded direction", sw),
			}
		}

		if err := c.motors.MoveXY(wp.X, wp.Y); err != nil {
			if err == motor.ErrStopped {
				return &Error{Code: CodeOperatorStop, Operation: op, Message: "stop during segment"}
			}
			return &Error{Code: CodeDriveFault, Operation: op, Message: err.Error()}
		}

		if sw, hit := c.unexpectedLimit(before, dx, dy); hit {
			return &Error{
				Code:      CodeLimitTripped,
				Operation: op,
				Message:   fmt.Sprintf("%s tripped off the travel vector", sw),
			}
		}

		c.publishPosition()
		prev = wp
	}
	return nil
}

var carriageLimits = []sensor.Name{sensor.XBegin, sensor.XEnd, sensor.YBegin, sensor.YEnd}

// limitSnapshot reads the four carriage limit switches.
func (c *Controller) limitSnapshot() map[sensor.Name]bool {
	snap := make(map[sensor.Name]bool, len(carriageLimits))
	for _, sw := range carriageLimits {
		snap[sw] = c.switchTriggered(sw)
	}
	return snap
}

// limitInDirection reports a pre-triggered switch lying in the commanded
// travel direction.
func limitInDirection(snap map[sensor.Name]bool, dx, dy int) (sensor.Name, bool) {
	if dx < 0 && snap[sensor.XBegin] {
		return sensor.XBegin, true
	}
	if dx > 0 && snap[sensor.XEnd] {
		return sensor.XEnd, true
	}
	if dy < 0 && snap[sensor.YBegin] {
		return sensor.YBegin, true
	}
	if dy > 0 && snap[sensor.YEnd] {
		return sensor.YEnd, true
	}
	return "", false
}

// unexpectedLimit reports a switch that newly tripped during the segment
// even though the travel vector cannot explain it. Travelling toward a
// switch may legitimately reach it; a switch that was already triggered
// before the segment is the pre-check's concern, not this one's.
func (c *Controller) unexpectedLimit(before map[sensor.Name]bool, dx, dy int) (sensor.Name, bool) {
	expected := map[sensor.Name]bool{
		sensor.XBegin: dx < 0,
		sensor.XEnd:   dx > 0,
		sensor.YBegin: dy < 0,
		sensor.YEnd:   dy > 0,
	}
	for _, sw := range carriageLimits {
		if expected[sw] || before[sw] {
			continue
		}
		if c.switchTriggered(sw) {
			return sw, true
		}
	}
	return "", false
}

// trayExtend runs a tray extension phase; steps <= 0 means full travel.
func (c *Controller) trayExtend(op string, steps int) error {
	if c.stopReq.Load() {
		return &Error{Code: CodeOperatorStop, Operation: op, Message: "stop requested before tray extend"}
	}
	if err := c.motors.ExtendTray(steps); err != nil {
		switch err {
		case motor.ErrStopped:
			return &Error{Code: CodeOperatorStop, Operation: op, Message: "stop during tray extend"}
		case motor.ErrTrayLimit:
			return &Error{Code: CodeTrayExtendLimit, Operation: op, Message: "tray end limit not reached"}
		default:
			return &Error{Code: CodeTrayExtendFault, Operation: op, Message: err.Error()}
		}
	}
	return nil
}

// trayRetract runs a tray retraction phase; steps <= 0 means full travel.
func (c *Controller) trayRetract(op string, steps int) error {
	if c.stopReq.Load() {
		return &Error{Code: CodeOperatorStop, Operation: op, Message: "stop requested before tray retract"}
	}
	if err := c.motors.RetractTray(steps); err != nil {
		switch err {
		case motor.ErrStopped:
			return &Error{Code: CodeOperatorStop, Operation: op, Message: "stop during tray retract"}
		case motor.ErrTrayLimit:
			return &Error{Code: CodeTrayRetractLimit, Operation: op, Message: "tray begin limit not reached"}
		default:
			return &Error{Code: CodeTrayRetractFault, Operation: op, Message: err.Error()}
		}
	}
	return nil
}
