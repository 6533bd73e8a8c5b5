package cham

import "errors"

var (
	// ErrNotFound is returned by lookups with fewer matches than requested.
	ErrNotFound = errors.New("cham: unit not found")

	// ErrInvalidDriver is returned for a driver without name or probe function.
	ErrInvalidDriver = errors.New("cham: invalid driver")

	// ErrDriverRegistered is returned when a driver is registered twice.
	ErrDriverRegistered = errors.New("cham: driver already registered")

	// ErrDriverNotRegistered is returned when unregistering an unknown driver.
	ErrDriverNotRegistered = errors.New("cham: driver not registered")

	// ErrUnknownDevice is returned when detaching a device that is not attached.
	ErrUnknownDevice = errors.New("cham: device not attached")

	// ErrDeviceAttached is returned when attaching a device twice.
	ErrDeviceAttached = errors.New("cham: device already attached")

	// ErrTableInit is returned when the table reader cannot be opened.
	ErrTableInit = errors.New("cham: table init failed")

	// ErrDecode is returned when the table header or an entry cannot be read.
	ErrDecode = errors.New("cham: table decode failed")

	// ErrBadMagic is returned for a table with an unknown sync word.
	ErrBadMagic = errors.New("cham: unknown table magic")

	// ErrNoEndMarker is returned when a table has more than table.MaxUnits entries.
	ErrNoEndMarker = errors.New("cham: table end marker missing")

	// ErrEnable is returned when the device cannot be enabled after matching.
	ErrEnable = errors.New("cham: device enable failed")
)
