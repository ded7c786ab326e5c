package database

// DispatchStatus represents the lifecycle state of a dispatch record.
type DispatchStatus string

// Dispatch status values. The pipeline only ever drives created -> assigned;
// later transitions come in through the status API.
const (
	StatusCreated      DispatchStatus = "created"
	StatusAssigned     DispatchStatus = "assigned"
	StatusOnRoute      DispatchStatus = "on_route"
	StatusOnScene      DispatchStatus = "on_scene"
	StatusTransporting DispatchStatus = "transporting"
	StatusCompleted    DispatchStatus = "completed"
	StatusCancelled    DispatchStatus = "cancelled"
)

// String returns the string representation of the status.
func (s DispatchStatus) String() string {
	return string(s)
}

// IsValid checks if the status is one of the enumerated values.
func (s DispatchStatus) IsValid() bool {
	switch s {
	case StatusCreated, StatusAssigned, StatusOnRoute, StatusOnScene,
		StatusTransporting, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal checks if the status accepts no further transitions.
func (s DispatchStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}
