package models

import (
	"strings"
	"time"
)

type Patient struct {
	ID        string    `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  *string   `json:"last_name"`
	Age       *int      `json:"age"`
	Phone     string    `json:"phone"`
	Email     *string   `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// FullName gabungan first_name dan last_name.
func (p Patient) FullName() string {
	if p.LastName == nil || *p.LastName == "" {
		return p.FirstName
	}
	return strings.TrimSpace(p.FirstName + " " + *p.LastName)
}

type CreatePatientRequest struct {
	FirstName string  `json:"first_name" validate:"required,min=1,max=100"`
	LastName  *string `json:"last_name" validate:"omitempty,max=100"`
	Age       *int    `json:"age" validate:"omitempty,min=0,max=150"`
	Phone     string  `json:"phone" validate:"required,min=10,max=20"`
	Email     *string `json:"email" validate:"omitempty,email,max=255"`
}
