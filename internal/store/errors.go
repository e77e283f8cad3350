// Package store is the persistence layer: named SQLite history databases,
// the per-capture unit of work, multi-format clip storage, duplicate lookup
// and destination routing.
package store

import (
	"errors"

	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a clip or collection does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrNoDestination is returned when no collection accepts new clips.
	ErrNoDestination = errors.New("store: no collection accepts new clips")
	// ErrReadOnly is returned for writes to a read-only database or collection.
	ErrReadOnly = errors.New("store: read-only")
	// ErrUnknownStorage is returned for a payload with no matching table.
	ErrUnknownStorage = errors.New("store: unknown storage type")
	// ErrIntegrity is returned when a format descriptor has no payload row.
	ErrIntegrity = errors.New("store: integrity violation")
	// ErrValidation is returned when a virtual collection query is rejected.
	ErrValidation = errors.New("store: query rejected")
)

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
