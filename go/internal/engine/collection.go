package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mcdev12/ledgersync/go/internal/models"
)

// Entity is a typed record that knows its collection.
type Entity interface {
	TableName() string
}

// Collection is a typed view over one table. Values convert to and from records
// through their JSON form, so struct tags define the field names.
type Collection[T Entity] struct {
	engine *Engine
	table  string
}

func NewCollection[T Entity](e *Engine) Collection[T] {
	var zero T
	return Collection[T]{engine: e, table: zero.TableName()}
}

func (c Collection[T]) Table() string { return c.table }

func (c Collection[T]) Create(ctx context.Context, v T) (string, error) {
	m, err := toMap(v)
	if err != nil {
		return "", err
	}
	return c.engine.Create(ctx, c.table, m)
}

func (c Collection[T]) Update(ctx context.Context, id string, partial map[string]any) error {
	return c.engine.Update(ctx, c.table, id, partial)
}

func (c Collection[T]) Delete(ctx context.Context, id string) error {
	return c.engine.Delete(ctx, c.table, id)
}

func (c Collection[T]) Get(ctx context.Context, id string) (T, error) {
	rec, err := c.engine.GetByID(ctx, c.table, id)
	if err != nil {
		var zero T
		return zero, err
	}
	return fromRecord[T](rec)
}

func (c Collection[T]) List(ctx context.Context, orgID string) ([]T, error) {
	recs, err := c.engine.GetAll(ctx, c.table, orgID)
	if err != nil {
		return nil, err
	}
	return fromRecords[T](recs)
}

func (c Collection[T]) Search(ctx context.Context, query, orgID string) ([]T, error) {
	recs, err := c.engine.Search(ctx, c.table, query, orgID)
	if err != nil {
		return nil, err
	}
	return fromRecords[T](recs)
}

// Collections for the accounting entities.
func Invoices(e *Engine) Collection[models.Invoice]         { return NewCollection[models.Invoice](e) }
func Expenses(e *Engine) Collection[models.Expense]         { return NewCollection[models.Expense](e) }
func Transactions(e *Engine) Collection[models.Transaction] { return NewCollection[models.Transaction](e) }
func LedgerEntries(e *Engine) Collection[models.LedgerEntry] {
	return NewCollection[models.LedgerEntry](e)
}
func Payroll(e *Engine) Collection[models.PayrollRun]  { return NewCollection[models.PayrollRun](e) }
func Employees(e *Engine) Collection[models.Employee] { return NewCollection[models.Employee](e) }

func toMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode %T: %w", v, err)
	}
	return m, nil
}

func fromRecord[T Entity](rec models.Record) (T, error) {
	var out T
	raw, err := json.Marshal(rec)
	if err != nil {
		return out, fmt.Errorf("encode %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %s into %T: %w", rec.ID, out, err)
	}
	return out, nil
}

func fromRecords[T Entity](recs []models.Record) ([]T, error) {
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		v, err := fromRecord[T](rec)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
