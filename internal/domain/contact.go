package domain

import (
	"time"

	"github.com/google/uuid"
)

// Contact is a person a tenant can message. Attributes is the free-form
// profile bag that seeds workflow instance variables at enrollment.
type Contact struct {
	ID             uuid.UUID      `json:"id" db:"id"`
	OrganizationID uuid.UUID      `json:"organization_id" db:"organization_id"`
	Email          string         `json:"email" db:"email"`
	Phone          string         `json:"phone,omitempty" db:"phone"`
	Attributes     map[string]any `json:"attributes" db:"attributes"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
}

// Variables flattens the contact into the variable map a new workflow
// instance starts with. Profile attributes come first so the reserved
// address keys cannot be shadowed.
func (c *Contact) Variables() map[string]any {
	vars := make(map[string]any, len(c.Attributes)+3)
	for k, v := range c.Attributes {
		vars[k] = v
	}
	vars["contact_id"] = c.ID.String()
	vars["email"] = c.Email
	if c.Phone != "" {
		vars["phone"] = c.Phone
	}
	return vars
}
