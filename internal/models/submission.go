package models

import (
	"encoding/json"
	"time"
)

// Submission is one student's essay for one assignment target.
type Submission struct {
	ID           string    `db:"id" json:"id"`
	AssignmentID string    `db:"assignment_id" json:"assignment_id"`
	StudentID    string    `db:"student_id" json:"student_id"`
	FileName     string    `db:"file_name" json:"file_name"`
	Text         string    `db:"text" json:"text"`
	WordCount    int       `db:"word_count" json:"word_count"`
	SubmittedAt  time.Time `db:"submitted_at" json:"submitted_at"`
}

// CorrectionStatus tracks the asynchronous AI correction round trip.
type CorrectionStatus string

const (
	CorrectionStatusPending  CorrectionStatus = "PENDING"
	CorrectionStatusReady    CorrectionStatus = "READY"
	CorrectionStatusFailed   CorrectionStatus = "FAILED"
	CorrectionStatusReviewed CorrectionStatus = "REVIEWED"
)

// Correction stores the AI correction payload verbatim. The service never
// interprets the payload beyond displaying it; teachers may layer feedback
// on top during review.
type Correction struct {
	ID              string           `db:"id" json:"id"`
	SubmissionID    string           `db:"submission_id" json:"submission_id"`
	Status          CorrectionStatus `db:"status" json:"status"`
	Payload         json.RawMessage  `db:"payload" json:"payload,omitempty"`
	TeacherFeedback *string          `db:"teacher_feedback" json:"teacher_feedback,omitempty"`
	ReviewedBy      *string          `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time       `db:"reviewed_at" json:"reviewed_at,omitempty"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at" json:"updated_at"`
}

// CorrectionResult mirrors the external webhook response shape. It exists
// for documentation and webhook decoding only; the stored payload stays raw.
type CorrectionResult struct {
	Level           string          `json:"level"`
	Errors          json.RawMessage `json:"errors"`
	Recommendations json.RawMessage `json:"recommendations"`
	TeacherFeedback string          `json:"teacher_feedback"`
	WordCount       int             `json:"word_count"`
}

// SubmissionDetail joins a submission with its correction for display.
type SubmissionDetail struct {
	Submission
	Correction *Correction `json:"correction,omitempty"`
}
