package models

import "time"

// Invoice is a sales invoice issued by an organization.
type Invoice struct {
	ID             string    `json:"id,omitempty"`
	OrganizationID string    `json:"organization_id"`
	InvoiceNumber  string    `json:"invoice_number"`
	CustomerName   string    `json:"customer_name"`
	CustomerEmail  string    `json:"customer_email,omitempty"`
	IssueDate      string    `json:"issue_date,omitempty"`
	DueDate        string    `json:"due_date,omitempty"`
	Subtotal       float64   `json:"subtotal"`
	TaxAmount      float64   `json:"tax_amount"`
	TotalAmount    float64   `json:"total_amount"`
	Status         string    `json:"status,omitempty"`
	Notes          string    `json:"notes,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitzero"`
	UpdatedAt      time.Time `json:"updated_at,omitzero"`
	Synced         bool      `json:"synced"`
}

func (Invoice) TableName() string { return TableInvoices }
