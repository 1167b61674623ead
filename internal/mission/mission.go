// Package mission defines the mission lifecycle model and the wire messages
// exchanged between the commander and soldiers.
package mission

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Queue names shared by the commander and soldiers. Both are declared durable.
const (
	OrdersQueue = "orders_queue"
	StatusQueue = "status_queue"
)

var (
	ErrInvalidStatus = errors.New("mission: invalid status")
	ErrInvalidOrder  = errors.New("mission: invalid order")
	ErrInvalidReport = errors.New("mission: invalid status report")
)

// Status is the lifecycle state of a mission.
type Status string

const (
	StatusQueued     Status = "QUEUED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

func ParseStatus(raw string) (Status, error) {
	s := Status(strings.TrimSpace(raw))
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return s, nil
}

func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is expected.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) String() string {
	return string(s)
}

// Mission is the commander-side view of one submitted unit of work.
type Mission struct {
	ID        string          `json:"mission_id"`
	Payload   json.RawMessage `json:"mission_data,omitempty"`
	Status    Status          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

// Order instructs a soldier to execute one mission.
type Order struct {
	MissionID string          `json:"mission_id"`
	Data      json.RawMessage `json:"mission_data"`
}

func (o Order) Validate() error {
	if strings.TrimSpace(o.MissionID) == "" {
		return fmt.Errorf("%w: missing mission_id", ErrInvalidOrder)
	}
	return nil
}

// DecodeOrder parses and validates an order body from the broker.
func DecodeOrder(body []byte) (Order, error) {
	var o Order
	if err := json.Unmarshal(body, &o); err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	if err := o.Validate(); err != nil {
		return Order{}, err
	}
	return o, nil
}

// StatusReport is a soldier's lifecycle transition for one mission.
type StatusReport struct {
	MissionID string `json:"mission_id"`
	Status    Status `json:"mission_status"`
	Token     string `json:"token,omitempty"`
}

func (r StatusReport) Validate() error {
	if strings.TrimSpace(r.MissionID) == "" {
		return fmt.Errorf("%w: missing mission_id", ErrInvalidReport)
	}
	if !r.Status.Valid() {
		return fmt.Errorf("%w: %w %q", ErrInvalidReport, ErrInvalidStatus, r.Status)
	}
	return nil
}

// DecodeStatusReport parses a status report body. Token presence is not
// checked here; authentication belongs to the receiver.
func DecodeStatusReport(body []byte) (StatusReport, error) {
	var r StatusReport
	if err := json.Unmarshal(body, &r); err != nil {
		return StatusReport{}, fmt.Errorf("%w: %v", ErrInvalidReport, err)
	}
	r.MissionID = strings.TrimSpace(r.MissionID)
	r.Token = strings.TrimSpace(r.Token)
	if err := r.Validate(); err != nil {
		return StatusReport{}, err
	}
	return r, nil
}
