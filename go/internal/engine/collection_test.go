package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/ledgersync/go/internal/models"
)

func TestTypedCollections(t *testing.T) {
	f := newFixture(t, false, nil)
	ctx := context.Background()

	employees := Employees(f.engine)
	assert.Equal(t, models.TableEmployees, employees.Table())

	id, err := employees.Create(ctx, models.Employee{OrganizationID: "org1", FullName: "Ada Lovelace", Email: "ada@example.com"})
	require.NoError(t, err)
	_, err = employees.Create(ctx, models.Employee{OrganizationID: "org2", FullName: "Charles Babbage"})
	require.NoError(t, err)

	list, err := employees.List(ctx, "org1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
	assert.Equal(t, "Ada Lovelace", list[0].FullName)

	require.NoError(t, employees.Update(ctx, id, map[string]any{"email": "ada@analytical.engine"}))
	got, err := employees.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "ada@analytical.engine", got.Email)

	found, err := employees.Search(ctx, "babbage", "")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "org2", found[0].OrganizationID)

	require.NoError(t, employees.Delete(ctx, id))
	_, err = employees.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)

	for _, table := range []string{
		Invoices(f.engine).Table(),
		Expenses(f.engine).Table(),
		Transactions(f.engine).Table(),
		LedgerEntries(f.engine).Table(),
		Payroll(f.engine).Table(),
	} {
		assert.Contains(t, models.DefaultTables(), table)
	}
}
