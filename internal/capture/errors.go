package capture

import "errors"

var (
	// ErrInvalidArgument covers a missing callback or a config that fails validation.
	ErrInvalidArgument = errors.New("capture: invalid argument")
	// ErrDevice is returned when the backend cannot open or arm the device.
	ErrDevice = errors.New("capture: device error")
	// ErrAllocation is returned when the ring or scratch block cannot be sized.
	ErrAllocation = errors.New("capture: allocation error")
	// ErrNotInitialized is returned by Start on a session that has not been initialized.
	ErrNotInitialized = errors.New("capture: session not initialized")
)
