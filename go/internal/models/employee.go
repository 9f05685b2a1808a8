package models

import "time"

// Employee is a person on an organization's payroll.
type Employee struct {
	ID             string    `json:"id,omitempty"`
	OrganizationID string    `json:"organization_id"`
	FullName       string    `json:"full_name"`
	Email          string    `json:"email,omitempty"`
	Position       string    `json:"position,omitempty"`
	BaseSalary     float64   `json:"base_salary"`
	HireDate       string    `json:"hire_date,omitempty"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at,omitzero"`
	UpdatedAt      time.Time `json:"updated_at,omitzero"`
	Synced         bool      `json:"synced"`
}

func (Employee) TableName() string { return TableEmployees }
