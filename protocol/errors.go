package protocol

import "errors"

var (
	ErrInvalidParameter  = errors.New("invalid parameter")
	ErrUnsupported       = errors.New("operation not supported in current radio mode")
	ErrResourceExhausted = errors.New("no resources available")
	ErrHardwareFault     = errors.New("radio peripheral did not respond")
	ErrTimeout           = errors.New("operation timed out")
)

// Range errors. Each one matches ErrInvalidParameter with errors.Is.
var (
	ErrInvalidPayload error = &paramError{"invalid payload size"}
	ErrInvalidBand    error = &paramError{"invalid frequency band (valid range: 0-100)"}
	ErrInvalidPower   error = &paramError{"invalid transmit power (valid range: 0-7)"}
)

type paramError struct{ msg string }

func (e *paramError) Error() string { return e.msg }
func (e *paramError) Unwrap() error { return ErrInvalidParameter }
