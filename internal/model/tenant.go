package model

import "time"

// Tenant is one registered account owning its own chat session, schedule
// and group selections. The record itself lives in Postgres; the core
// reads the configuration fields and writes back connection status and
// message history.
type Tenant struct {
	ID       string
	Username string
	IsActive bool

	Connected       bool
	LastConnectedAt *time.Time
	PairingCode     *string

	DailyMessage DailyMessage
	Schedule     Schedule

	SelectedGroups []SelectedGroup
}

type DailyMessage struct {
	Text      string
	Time      string // "HH:MM"
	Enabled   bool
	MediaPath string
}

type Schedule struct {
	Enabled  bool
	Timezone string
}

// SelectedGroup is a group the tenant opted into for the daily broadcast.
type SelectedGroup struct {
	ID      string
	Name    string
	Enabled bool
	AddedAt time.Time
}

// EnabledGroups returns the selected groups that are toggled on, in
// listed order.
func (t *Tenant) EnabledGroups() []SelectedGroup {
	var out []SelectedGroup
	for _, g := range t.SelectedGroups {
		if g.Enabled {
			out = append(out, g)
		}
	}
	return out
}

// Group is a read-only projection of a group chat known from the
// transport client. Never mutated locally, only replaced wholesale on
// refresh.
type Group struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	ParticipantCount int    `json:"participantCount"`
}

type RecordStatus string

const (
	StatusSent        RecordStatus = "sent"
	StatusFailed      RecordStatus = "failed"
	StatusBatchSent   RecordStatus = "batch_sent"
	StatusBatchFailed RecordStatus = "batch_failed"
)

// SentMessageRecord is an append-only history entry written for every
// interactive send and once per batch run.
type SentMessageRecord struct {
	Contact   string       `json:"contact"`
	Content   string       `json:"content"`
	Status    RecordStatus `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
}

// Result is the {success, message} shape every public operation returns.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
