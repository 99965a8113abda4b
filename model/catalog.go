package model

import "time"

// Office is a government office.
type Office struct {
	Meta
	Name    string `json:"name"`
	Code    string `json:"code,omitempty"`
	Address string `json:"address,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
}

// Clone returns a deep copy.
func (o Office) Clone() Office { return o }

// Section is a unit within an office.
type Section struct {
	Meta
	Name        string `json:"name"`
	OfficeID    string `json:"officeId"`
	Description string `json:"description,omitempty"`
}

// Clone returns a deep copy.
func (s Section) Clone() Section { return s }

// Subject is a category of service a citizen can request.
type Subject struct {
	Meta
	Name        string `json:"name"`
	SectionID   string `json:"sectionId"`
	Description string `json:"description,omitempty"`
}

// Clone returns a deep copy.
func (s Subject) Clone() Subject { return s }

// Template is a reusable document or letter template.
type Template struct {
	Meta
	Name        string   `json:"name"`
	Category    string   `json:"category,omitempty"`
	Description string   `json:"description,omitempty"`
	Content     string   `json:"content"`
	Tags        []string `json:"tags,omitempty"`
}

// Clone returns a deep copy.
func (t Template) Clone() Template {
	t.Tags = append([]string(nil), t.Tags...)
	return t
}

// Notification is a message addressed to a user.
type Notification struct {
	Meta
	UserID           string `json:"userId"`
	Title            string `json:"title"`
	Message          string `json:"message"`
	Type             string `json:"type,omitempty"`
	Read             bool   `json:"read"`
	ServiceRequestID string `json:"serviceRequestId,omitempty"`
}

// Clone returns a deep copy.
func (n Notification) Clone() Notification { return n }

// Task statuses.
const (
	TaskOpen       = "Open"
	TaskInProgress = "InProgress"
	TaskDone       = "Done"
)

// Task is a unit of work in a staff queue.
type Task struct {
	Meta
	Title            string     `json:"title"`
	Description      string     `json:"description,omitempty"`
	ServiceRequestID string     `json:"serviceRequestId,omitempty"`
	AssignedToUserID string     `json:"assignedToUserId,omitempty"`
	OfficeID         string     `json:"officeId,omitempty"`
	Status           string     `json:"status"`
	Priority         string     `json:"priority,omitempty"`
	DueDate          *time.Time `json:"dueDate,omitempty"`
}

// Clone returns a deep copy.
func (t Task) Clone() Task {
	if t.DueDate != nil {
		d := *t.DueDate
		t.DueDate = &d
	}
	return t
}

// User is a staff account.
type User struct {
	Meta
	Name         string `json:"name"`
	Email        string `json:"email"`
	Username     string `json:"username,omitempty"`
	PasswordHash string `json:"passwordHash,omitempty"`
	Role         Role   `json:"role"`
	OfficeID     string `json:"officeId,omitempty"`
	SectionID    string `json:"sectionId,omitempty"`
	Phone        string `json:"phone,omitempty"`
	Disabled     bool   `json:"disabled,omitempty"`
}

// Clone returns a deep copy.
func (u User) Clone() User { return u }
