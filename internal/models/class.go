package models

import "time"

// ClassRoom is a teacher-owned class. Name and join code are fixed after
// creation; deleting a class cascades to its roster and forum data.
type ClassRoom struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	JoinCode  string    `db:"join_code" json:"join_code"`
	OwnerID   string    `db:"owner_id" json:"owner_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ClassDetail extends ClassRoom with denormalized display info.
type ClassDetail struct {
	ClassRoom
	OwnerName   string `db:"owner_name" json:"owner_name"`
	MemberCount int    `db:"member_count" json:"member_count"`
}

// RosterEntry records a student's membership in a class. At most one entry
// exists per (class_id, student_id); the student columns are a snapshot of
// the profile taken through a join at read time.
type RosterEntry struct {
	ID        string    `db:"id" json:"id"`
	ClassID   string    `db:"class_id" json:"class_id"`
	StudentID string    `db:"student_id" json:"student_id"`
	JoinedAt  time.Time `db:"joined_at" json:"joined_at"`
}

// RosterMember enriches RosterEntry with the student profile snapshot.
type RosterMember struct {
	RosterEntry
	StudentName  string  `db:"student_name" json:"student_name"`
	StudentEmail string  `db:"student_email" json:"student_email"`
	TargetLevel  *string `db:"target_level" json:"target_level,omitempty"`
}

// ClassFilter defines filter criteria for listing classes.
type ClassFilter struct {
	OwnerID   string
	StudentID string
	Search    string
	Page      int
	PageSize  int
}
