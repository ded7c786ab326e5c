// Package assignment chooses the ambulance and hospital for a dispatch.
// Policies are pure over statically configured pools so they can be swapped
// without touching the pipeline.
package assignment

import (
	"fmt"

	"github.com/BeeLink-CN/5g-health-platform-dispatch-service/internal/database"
)

// Assignment is the chosen ambulance/hospital pair for a dispatch.
type Assignment struct {
	AmbulanceID string
	HospitalID  string
}

// Policy resolves an assignment for a dispatch. Implementations must be
// deterministic and side-effect free.
type Policy interface {
	Resolve(d *database.Dispatch) (Assignment, error)
}

// FirstAvailable picks the first configured id from each pool unconditionally.
// This is a placeholder policy; a ranking policy can replace it behind the
// same interface.
type FirstAvailable struct {
	ambulances []string
	hospitals  []string
}

// NewFirstAvailable creates a first-available policy over the given pools.
func NewFirstAvailable(ambulances, hospitals []string) *FirstAvailable {
	return &FirstAvailable{ambulances: ambulances, hospitals: hospitals}
}

// Resolve returns the first ambulance and hospital in the configured pools.
func (p *FirstAvailable) Resolve(_ *database.Dispatch) (Assignment, error) {
	if len(p.ambulances) == 0 {
		return Assignment{}, fmt.Errorf("ambulance pool is empty")
	}
	if len(p.hospitals) == 0 {
		return Assignment{}, fmt.Errorf("hospital pool is empty")
	}
	return Assignment{
		AmbulanceID: p.ambulances[0],
		HospitalID:  p.hospitals[0],
	}, nil
}

// Ensure FirstAvailable implements Policy.
var _ Policy = (*FirstAvailable)(nil)
