package models

import "time"

// PayrollRun is one pay period's payment to an employee.
type PayrollRun struct {
	ID             string    `json:"id,omitempty"`
	OrganizationID string    `json:"organization_id"`
	EmployeeID     string    `json:"employee_id"`
	PeriodStart    string    `json:"period_start,omitempty"`
	PeriodEnd      string    `json:"period_end,omitempty"`
	GrossPay       float64   `json:"gross_pay"`
	Deductions     float64   `json:"deductions"`
	NetPay         float64   `json:"net_pay"`
	Status         string    `json:"status,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitzero"`
	UpdatedAt      time.Time `json:"updated_at,omitzero"`
	Synced         bool      `json:"synced"`
}

func (PayrollRun) TableName() string { return TablePayroll }
