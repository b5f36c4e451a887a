package models

import "time"

// Assignment is an essay prompt published to a class.
type Assignment struct {
	ID          string    `db:"id" json:"id"`
	ClassID     string    `db:"class_id" json:"class_id"`
	Title       string    `db:"title" json:"title"`
	Prompt      string    `db:"prompt" json:"prompt"`
	Level       string    `db:"level" json:"level"`
	DueAt       time.Time `db:"due_at" json:"due_at"`
	CreatedBy   string    `db:"created_by" json:"created_by"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	TargetCount int       `db:"target_count" json:"target_count,omitempty"`
}

// TargetStatus is the lifecycle of a per-student assignment target.
// SUBMITTED and LATE are terminal.
type TargetStatus string

const (
	TargetStatusPending   TargetStatus = "PENDING"
	TargetStatusSubmitted TargetStatus = "SUBMITTED"
	TargetStatusLate      TargetStatus = "LATE"
)

// AssignmentTarget is created in bulk when an assignment is published,
// one row per roster member at publication time (a snapshot; students who
// join the class later are not retroactively targeted).
type AssignmentTarget struct {
	ID           string       `db:"id" json:"id"`
	AssignmentID string       `db:"assignment_id" json:"assignment_id"`
	StudentID    string       `db:"student_id" json:"student_id"`
	Status       TargetStatus `db:"status" json:"status"`
	SubmittedAt  *time.Time   `db:"submitted_at" json:"submitted_at,omitempty"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
}

// AssignmentTargetDetail adds the student snapshot for teacher views.
type AssignmentTargetDetail struct {
	AssignmentTarget
	StudentName  string `db:"student_name" json:"student_name"`
	StudentEmail string `db:"student_email" json:"student_email"`
}

// LateTarget is one target flipped to LATE by the due sweep, carrying
// enough context to build the notification.
type LateTarget struct {
	TargetID     string `db:"target_id" json:"target_id"`
	AssignmentID string `db:"assignment_id" json:"assignment_id"`
	StudentID    string `db:"student_id" json:"student_id"`
	Title        string `db:"title" json:"title"`
	ClassID      string `db:"class_id" json:"class_id"`
}

// AssignmentFilter lists assignments by class or targeted student.
type AssignmentFilter struct {
	ClassID   string
	StudentID string
	Page      int
	PageSize  int
}
