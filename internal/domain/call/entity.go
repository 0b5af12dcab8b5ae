package call

import (
	"fmt"
	"time"
)

// Direction of a call relative to this endpoint.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Disposition is the terminal outcome recorded when a call ends.
type Disposition string

const (
	DispositionCompleted         Disposition = "completed"
	DispositionNoAnswer          Disposition = "no_answer"
	DispositionBusy              Disposition = "busy"
	DispositionTimeout           Disposition = "timeout"
	DispositionRejected          Disposition = "rejected"
	DispositionCancelled         Disposition = "cancelled"
	DispositionTransferred       Disposition = "transferred"
	DispositionFailed            Disposition = "failed"
	DispositionVoicemail         Disposition = "voicemail"
	DispositionWrongNumber       Disposition = "wrong_number"
	DispositionAppointmentBooked Disposition = "appointment_booked"
	DispositionFollowUp          Disposition = "follow_up_required"
)

// Validate enforces the known disposition vocabulary.
func (d Disposition) Validate() error {
	switch d {
	case DispositionCompleted, DispositionNoAnswer, DispositionBusy, DispositionTimeout,
		DispositionRejected, DispositionCancelled, DispositionTransferred, DispositionFailed,
		DispositionVoicemail, DispositionWrongNumber, DispositionAppointmentBooked, DispositionFollowUp:
		return nil
	default:
		return fmt.Errorf("unsupported disposition: %q", d)
	}
}

// Missed reports whether the disposition means nobody picked up.
func (d Disposition) Missed() bool {
	return d == DispositionTimeout || d == DispositionNoAnswer
}

// Association links a call to clinic records owned by other services.
type Association struct {
	PatientID     string `json:"patient_id,omitempty"`
	AppointmentID string `json:"appointment_id,omitempty"`
	DentistID     string `json:"dentist_id,omitempty"`
	TicketID      string `json:"ticket_id,omitempty"`
}

// Call is a single leg tracked by the phone core.
type Call struct {
	ID              string      `json:"id"`
	Peer            string      `json:"peer"`
	DisplayName     string      `json:"display_name,omitempty"`
	Direction       Direction   `json:"direction"`
	State           State       `json:"state"`
	StartedAt       time.Time   `json:"started_at"`
	AnsweredAt      *time.Time  `json:"answered_at,omitempty"`
	EndedAt         *time.Time  `json:"ended_at,omitempty"`
	DurationSeconds int64       `json:"duration_seconds"`
	Disposition     Disposition `json:"disposition,omitempty"`
	OnHold          bool        `json:"on_hold"`
	Muted           bool        `json:"muted"`
	Association     Association `json:"association"`
	TransferTarget  string      `json:"transfer_target,omitempty"`
	RemoteStreamID  string      `json:"remote_stream_id,omitempty"`
	ErrorMessage    string      `json:"error_message,omitempty"`
}

func NewOutbound(id, peer string, startedAt time.Time) Call {
	return Call{
		ID:        id,
		Peer:      peer,
		Direction: DirectionOutbound,
		State:     StateDialing,
		StartedAt: startedAt,
	}
}

func NewInbound(id, peer, displayName string, startedAt time.Time) Call {
	return Call{
		ID:          id,
		Peer:        peer,
		DisplayName: displayName,
		Direction:   DirectionInbound,
		State:       StateRingingIn,
		StartedAt:   startedAt,
	}
}

// Clone returns a copy that shares no pointers with c.
func (c Call) Clone() Call {
	out := c
	if c.AnsweredAt != nil {
		t := *c.AnsweredAt
		out.AnsweredAt = &t
	}
	if c.EndedAt != nil {
		t := *c.EndedAt
		out.EndedAt = &t
	}
	return out
}

// MarkAnswered stamps the answer time once.
func (c *Call) MarkAnswered(at time.Time) {
	if c.AnsweredAt == nil {
		c.AnsweredAt = &at
	}
}

// Finish stamps the end time and duration. An empty disposition keeps the current one.
// Calls not already in a terminal state move to ENDED.
func (c *Call) Finish(disposition Disposition, at time.Time) {
	c.EndedAt = &at
	c.DurationSeconds = 0
	if c.AnsweredAt != nil && at.After(*c.AnsweredAt) {
		c.DurationSeconds = int64(at.Sub(*c.AnsweredAt) / time.Second)
	}
	if disposition != "" {
		c.Disposition = disposition
	}
	if !c.State.IsTerminal() {
		c.State = StateEnded
	}
	c.OnHold = false
}

// Answered reports whether the remote party ever connected.
func (c Call) Answered() bool {
	return c.AnsweredAt != nil
}
