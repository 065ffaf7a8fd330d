package models

import "time"

// Student is a learner record; its access code identifies the parent.
type Student struct {
	ID                  string     `db:"id" json:"id"`
	NIS                 string     `db:"nis" json:"nis"`
	FullName            string     `db:"full_name" json:"full_name"`
	ClassID             *string    `db:"class_id" json:"class_id,omitempty"`
	ParentName          string     `db:"parent_name" json:"parent_name"`
	ParentEmail         string     `db:"parent_email" json:"parent_email"`
	ParentPhone         string     `db:"parent_phone" json:"parent_phone"`
	AccessCode          string     `db:"access_code" json:"access_code"`
	AccessCodeExpiresAt *time.Time `db:"access_code_expires_at" json:"access_code_expires_at,omitempty"`
	Active              bool       `db:"active" json:"active"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}

// AccessCodeValid reports whether the student's code may be used at now.
func (s *Student) AccessCodeValid(now time.Time) bool {
	if s == nil || !s.Active {
		return false
	}
	return s.AccessCodeExpiresAt == nil || now.Before(*s.AccessCodeExpiresAt)
}

// StudentDetail joins the class name for listings.
type StudentDetail struct {
	Student
	ClassName *string `db:"class_name" json:"class_name,omitempty"`
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search    string
	ClassID   string
	Active    *bool
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// ParentProfile is what a parent sees after presenting an access code.
type ParentProfile struct {
	StudentID   string  `json:"student_id"`
	StudentName string  `json:"student_name"`
	ClassName   *string `json:"class_name,omitempty"`
	ParentName  string  `json:"parent_name"`
	ParentEmail string  `json:"parent_email"`
	ParentPhone string  `json:"parent_phone"`
}
