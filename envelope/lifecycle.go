package envelope

import (
	"fmt"
	"time"
)

// LifecycleType is the canonical employee lifecycle event type. Every
// adapter normalizes its source vocabulary into one of these four values.
type LifecycleType string

const (
	// LifecycleOnboard marks a new hire entering the organization.
	LifecycleOnboard LifecycleType = "onboard"

	// LifecycleExit marks a termination or departure.
	LifecycleExit LifecycleType = "exit"

	// LifecycleTransfer marks a move between departments or locations.
	LifecycleTransfer LifecycleType = "transfer"

	// LifecycleUpdate marks any other change to an employee record.
	LifecycleUpdate LifecycleType = "update"
)

// LifecycleTypes returns the canonical types in topic order.
func LifecycleTypes() []LifecycleType {
	return []LifecycleType{LifecycleOnboard, LifecycleExit, LifecycleTransfer, LifecycleUpdate}
}

// IsValid returns true when t is one of the canonical lifecycle types.
func (t LifecycleType) IsValid() bool {
	switch t {
	case LifecycleOnboard, LifecycleExit, LifecycleTransfer, LifecycleUpdate:
		return true
	}
	return false
}

// Topic returns the canonical topic carrying events of this type.
func (t LifecycleType) Topic() string {
	return "employee." + string(t)
}

// EmployeeStatus is the canonical employment status.
type EmployeeStatus string

const (
	// StatusActive covers employed, current and similar source statuses.
	StatusActive EmployeeStatus = "active"

	// StatusInactive covers suspended employees and those on leave.
	StatusInactive EmployeeStatus = "inactive"

	// StatusTerminated covers ended, exited and quit source statuses.
	StatusTerminated EmployeeStatus = "terminated"
)

// IsValid returns true when s is a recognized status.
func (s EmployeeStatus) IsValid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusTerminated:
		return true
	}
	return false
}

// Employee is the normalized employee record embedded in lifecycle events.
// Date fields are nil when the source omitted them or supplied values that
// do not parse.
type Employee struct {
	ID           string         `json:"id"`
	Email        string         `json:"email,omitempty"`
	FirstName    string         `json:"firstName,omitempty"`
	LastName     string         `json:"lastName,omitempty"`
	Department   string         `json:"department,omitempty"`
	JobTitle     string         `json:"jobTitle,omitempty"`
	ManagerID    string         `json:"managerId,omitempty"`
	StartDate    *time.Time     `json:"startDate,omitempty"`
	EndDate      *time.Time     `json:"endDate,omitempty"`
	Location     string         `json:"location,omitempty"`
	EmployeeType string         `json:"employeeType,omitempty"`
	Status       EmployeeStatus `json:"status"`
}

// EventMetadata records where a lifecycle event came from and when it was
// normalized. SourceEventID together with Source forms the downstream
// idempotency key.
type EventMetadata struct {
	Source          string    `json:"source"`
	SourceEventID   string    `json:"sourceEventId,omitempty"`
	SourceEventType string    `json:"sourceEventType,omitempty"`
	ProcessedAt     time.Time `json:"processedAt"`
	Version         string    `json:"version"`
}

// LifecycleEvent is the canonical form every HRMS event is normalized into
// before it reaches the bus.
type LifecycleEvent struct {
	Type           LifecycleType `json:"type"`
	OrganizationID string        `json:"organizationId"`
	EmployeeID     string        `json:"employeeId"`
	Employee       Employee      `json:"employee"`
	Metadata       EventMetadata `json:"metadata"`
}

// Validate enforces the canonical event invariants: a known type, a known
// status and a non-empty employee id.
func (ev *LifecycleEvent) Validate() error {
	if !ev.Type.IsValid() {
		return fmt.Errorf("lifecycle event has unknown type %q", ev.Type)
	}
	if ev.EmployeeID == "" || ev.Employee.ID == "" {
		return fmt.Errorf("%s event missing employee id", ev.Type)
	}
	if !ev.Employee.Status.IsValid() {
		return fmt.Errorf("%s event for employee %s has unknown status %q", ev.Type, ev.EmployeeID, ev.Employee.Status)
	}
	return nil
}

func init() {
	for _, t := range LifecycleTypes() {
		RegisterPayload[LifecycleEvent](t.Topic())
	}
}
