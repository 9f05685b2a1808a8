package models

import "time"

// LedgerEntry is one line of a double-entry journal.
type LedgerEntry struct {
	ID             string    `json:"id,omitempty"`
	OrganizationID string    `json:"organization_id"`
	AccountCode    string    `json:"account_code"`
	AccountName    string    `json:"account_name,omitempty"`
	Debit          float64   `json:"debit"`
	Credit         float64   `json:"credit"`
	EntryDate      string    `json:"entry_date,omitempty"`
	Memo           string    `json:"memo,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitzero"`
	UpdatedAt      time.Time `json:"updated_at,omitzero"`
	Synced         bool      `json:"synced"`
}

func (LedgerEntry) TableName() string { return TableLedgerEntries }
