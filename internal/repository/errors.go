package repository

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned when a create collides with an existing id.
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrSelfMatch is returned when a match pairs a trip with itself.
	ErrSelfMatch = errors.New("match pairs a trip with itself")
)
