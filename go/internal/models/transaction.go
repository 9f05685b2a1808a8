package models

import "time"

// TransactionType distinguishes money in from money out.
type TransactionType string

const (
	TransactionTypeIncome  TransactionType = "income"
	TransactionTypeExpense TransactionType = "expense"
)

// Transaction is a bank or cash movement.
type Transaction struct {
	ID              string          `json:"id,omitempty"`
	OrganizationID  string          `json:"organization_id"`
	Type            TransactionType `json:"type"`
	Amount          float64         `json:"amount"`
	Description     string          `json:"description,omitempty"`
	Reference       string          `json:"reference,omitempty"`
	TransactionDate string          `json:"transaction_date,omitempty"`
	CreatedAt       time.Time       `json:"created_at,omitzero"`
	UpdatedAt       time.Time       `json:"updated_at,omitzero"`
	Synced          bool            `json:"synced"`
}

func (Transaction) TableName() string { return TableTransactions }
