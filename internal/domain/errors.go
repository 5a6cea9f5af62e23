package domain

import "errors"

var (
	// ErrSensorNotFound is returned when no configuration is registered for a sensor.
	ErrSensorNotFound = errors.New("sensor not found")

	// ErrReadingNotFound is returned when a sensor has no reading at the requested timestamp.
	ErrReadingNotFound = errors.New("reading not found")

	// ErrNoReadings is returned when a sensor has never received a reading.
	ErrNoReadings = errors.New("no readings available for sensor")

	// ErrInvalidArgument is returned when a caller violates an input contract.
	ErrInvalidArgument = errors.New("invalid argument")
)
