package models

import "time"

// NotificationType enumerates in-app notification kinds.
type NotificationType string

const (
	NotificationTypeAssignment NotificationType = "ASSIGNMENT"
	NotificationTypeReminder   NotificationType = "REMINDER"
	NotificationTypeCorrection NotificationType = "CORRECTION"
	NotificationTypeLate       NotificationType = "LATE"
	NotificationTypeForum      NotificationType = "FORUM"
)

// Notification is created by server-side flows and mutated only by the
// mark-read action. ReadAt is set once and never cleared.
type Notification struct {
	ID        string           `db:"id" json:"id"`
	UserID    string           `db:"user_id" json:"user_id"`
	Type      NotificationType `db:"type" json:"type"`
	Message   string           `db:"message" json:"message"`
	Link      *string          `db:"link" json:"link,omitempty"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
	ReadAt    *time.Time       `db:"read_at" json:"read_at,omitempty"`
}

// ReminderChannel selects how a reminder is delivered when due.
type ReminderChannel string

const (
	ReminderChannelEmail ReminderChannel = "EMAIL"
	ReminderChannelApp   ReminderChannel = "APP"
	ReminderChannelBoth  ReminderChannel = "BOTH"
)

// Reminder is a scheduled nudge for an assignment. RunAt is absolute,
// computed at schedule time. A reminder is consumed exactly once: the sweep
// flips Sent and repeated sweeps never redeliver.
type Reminder struct {
	ID           string          `db:"id" json:"id"`
	AssignmentID string          `db:"assignment_id" json:"assignment_id"`
	StudentID    *string         `db:"student_id" json:"student_id,omitempty"`
	RunAt        time.Time       `db:"run_at" json:"run_at"`
	Channel      ReminderChannel `db:"channel" json:"channel"`
	Sent         bool            `db:"sent" json:"sent"`
	SentAt       *time.Time      `db:"sent_at" json:"sent_at,omitempty"`
	CreatedBy    string          `db:"created_by" json:"created_by"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}
