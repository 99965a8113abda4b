// Package mapper projects stored entities onto the shapes returned over HTTP.
package mapper

import (
	"time"

	"github.com/govflow/govflow/model"
)

// UserVM is a user as seen by API clients. It never carries the password
// hash.
type UserVM struct {
	ID        string     `json:"id"`
	Revision  int        `json:"revision"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	Username  string     `json:"username,omitempty"`
	Role      model.Role `json:"role"`
	OfficeID  string     `json:"officeId,omitempty"`
	SectionID string     `json:"sectionId,omitempty"`
	Phone     string     `json:"phone,omitempty"`
	IsActive  bool       `json:"isActive"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// ToUserVM maps a user to its view model.
func ToUserVM(u model.User) UserVM {
	return UserVM{
		ID:        u.ID,
		Revision:  u.Revision,
		Name:      u.Name,
		Email:     u.Email,
		Username:  u.Username,
		Role:      u.Role,
		OfficeID:  u.OfficeID,
		SectionID: u.SectionID,
		Phone:     u.Phone,
		IsActive:  !u.Disabled,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// ToUserVMs maps a slice of users.
func ToUserVMs(users []model.User) []UserVM {
	out := make([]UserVM, len(users))
	for i, u := range users {
		out[i] = ToUserVM(u)
	}
	return out
}
