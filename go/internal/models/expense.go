package models

import "time"

// Expense is a cost booked against an organization.
type Expense struct {
	ID             string    `json:"id,omitempty"`
	OrganizationID string    `json:"organization_id"`
	Description    string    `json:"description"`
	Category       string    `json:"category,omitempty"`
	Vendor         string    `json:"vendor,omitempty"`
	Amount         float64   `json:"amount"`
	ExpenseDate    string    `json:"expense_date,omitempty"`
	ReceiptURL     string    `json:"receipt_url,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitzero"`
	UpdatedAt      time.Time `json:"updated_at,omitzero"`
	Synced         bool      `json:"synced"`
}

func (Expense) TableName() string { return TableExpenses }
