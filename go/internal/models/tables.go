package models

// Collections the accounting application keeps locally.
const (
	TableInvoices      = "invoices"
	TableExpenses      = "expenses"
	TableTransactions  = "transactions"
	TableLedgerEntries = "ledger_entries"
	TablePayroll       = "payroll"
	TableEmployees     = "employees"
)

// DefaultTables returns the collections registered when no configuration overrides them.
func DefaultTables() []string {
	return []string{
		TableInvoices,
		TableExpenses,
		TableTransactions,
		TableLedgerEntries,
		TablePayroll,
		TableEmployees,
	}
}
