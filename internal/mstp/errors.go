package mstp

import "errors"

// Sentinel errors returned by Bridge operations. Protocol machines never
// return errors; missing records inside a cascade are logged and ignored.
var (
	// ErrInvalidParameter indicates a configuration value out of range.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrPortNotFound indicates an operation on an unknown port number.
	ErrPortNotFound = errors.New("port not found")

	// ErrPortExists indicates AddPort with a number already in use.
	ErrPortExists = errors.New("port already exists")

	// ErrInstanceNotFound indicates an operation on an MSTID with no
	// allocated instance.
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrNoFreeInstance indicates that all 64 MSTI slots are in use.
	ErrNoFreeInstance = errors.New("no free instance slot")

	// ErrInvalidMSTID indicates an MSTID outside 1..4094.
	ErrInvalidMSTID = errors.New("mstid out of range")

	// ErrInvalidVLAN indicates a VLAN id outside 1..4094.
	ErrInvalidVLAN = errors.New("vlan out of range")

	// ErrPortDisabled indicates a frame received on a disabled port.
	ErrPortDisabled = errors.New("port disabled")

	// ErrLoopClosed indicates a request submitted after Loop.Run returned.
	ErrLoopClosed = errors.New("event loop closed")
)
