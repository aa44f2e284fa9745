package bots

import (
	"errors"
	"fmt"
)

var (
	ErrCapacityExceeded = errors.New("room is at worker capacity")
	ErrWorkerNotFound   = errors.New("worker not found")
	ErrDraining         = errors.New("orchestrator is draining")

	errReservationSpent = errors.New("reservation already committed or released")
)

// ProvisioningStage identifies which external call failed while provisioning.
type ProvisioningStage string

const (
	StageRoom       ProvisioningStage = "room"
	StageCredential ProvisioningStage = "credential"
)

// ProvisioningError reports a failed room-service call. A room may already
// exist on the provider side when Stage is StageCredential.
type ProvisioningError struct {
	Stage ProvisioningStage
	Err   error
}

func (e *ProvisioningError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("provision %s failed", e.Stage)
	}
	return fmt.Sprintf("provision %s failed: %v", e.Stage, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

type CapacityError struct {
	RoomURL string
	Ceiling int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("room %s already has %d active worker(s)", e.RoomURL, e.Ceiling)
}

func (e *CapacityError) Is(target error) bool { return target == ErrCapacityExceeded }

type LaunchError struct {
	Variant string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s worker: %v", e.Variant, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }
