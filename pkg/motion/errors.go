package motion

import "fmt"

// Supervisor error codes, stable across the API surface.
const (
	// CodeInitFailed covers homing failures, including a begin switch that
	// never trips within the step budget.
	CodeInitFailed = 1
	CodeTakeFailed = 2
	CodeGiveFailed = 3

	// CodeLimitTripped: a limit switch in the commanded direction was
	// already triggered before a segment, or a switch off the travel
	// vector tripped unexpectedly after one.
	CodeLimitTripped = 10

	// CodeOperatorStop: stop requested between segments or tray phases.
	CodeOperatorStop = 11

	// CodeDriveFault: the motor driver failed mechanically.
	CodeDriveFault = 12

	// Tray phase codes.
	CodeTrayExtendFault  = 20
	CodeTrayExtendLimit  = 21
	CodeTrayRetractFault = 22
	CodeTrayRetractLimit = 23
)

// Error is a supervised motion failure.
type Error struct {
	Code      int
	Operation string
	Message   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("motion %s: [%d] %s", e.Operation, e.Code, e.Message)
}

// IsStop reports whether err is an operator-stop error.
func IsStop(err error) bool {
	me, ok := err.(*Error)
	return ok && me.Code == CodeOperatorStop
}
