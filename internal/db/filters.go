package db

import (
	"fmt"
	"regexp"
	"strings"
)

// ColumnResolver maps a field name to a SQL expression. The second result
// is false for fields the caller does not allow.
type ColumnResolver func(field string) (string, bool)

// Filter is a composable query predicate rendered to parameterised SQL.
type Filter interface {
	// Build returns the SQL fragment and its arguments.
	Build(resolve ColumnResolver) (string, []any, error)
}

// Valid payload keys for JSON lookups.
var fieldNameRegex = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// ValidFieldName reports whether name may be interpolated into a JSON path.
func ValidFieldName(name string) bool {
	return fieldNameRegex.MatchString(name)
}

type eqFilter struct {
	field string
	value any
}

// Eq matches records whose field equals value. A nil value matches NULL.
func Eq(field string, value any) Filter {
	return eqFilter{field: field, value: value}
}

func (f eqFilter) Build(resolve ColumnResolver) (string, []any, error) {
	col, err := column(resolve, f.field)
	if err != nil {
		return "", nil, err
	}
	if f.value == nil {
		return col + " IS NULL", nil, nil
	}
	return col + " = ?", []any{SQLValue(f.value)}, nil
}

type cmpFilter struct {
	field string
	op    string
	value any
}

// Gt matches records whose field is greater than value.
func Gt(field string, value any) Filter { return cmpFilter{field, ">", value} }

// Lt matches records whose field is less than value.
func Lt(field string, value any) Filter { return cmpFilter{field, "<", value} }

func (f cmpFilter) Build(resolve ColumnResolver) (string, []any, error) {
	col, err := column(resolve, f.field)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("%s %s ?", col, f.op), []any{SQLValue(f.value)}, nil
}

type inFilter struct {
	field  string
	values []any
}

// In matches records whose field is one of values. An empty set matches
// nothing.
func In(field string, values ...any) Filter {
	return inFilter{field: field, values: values}
}

func (f inFilter) Build(resolve ColumnResolver) (string, []any, error) {
	col, err := column(resolve, f.field)
	if err != nil {
		return "", nil, err
	}
	if len(f.values) == 0 {
		return "0", nil, nil
	}
	args := make([]any, len(f.values))
	for i, v := range f.values {
		args[i] = SQLValue(v)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(args)), ", ")
	return fmt.Sprintf("%s IN (%s)", col, placeholders), args, nil
}

type nullFilter struct {
	field string
	null  bool
}

// IsSet matches records where field is not NULL or empty.
func IsSet(field string) Filter { return nullFilter{field: field} }

func (f nullFilter) Build(resolve ColumnResolver) (string, []any, error) {
	col, err := column(resolve, f.field)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("(%s IS NOT NULL AND %s <> '')", col, col), nil, nil
}

type groupFilter struct {
	op      string
	filters []Filter
}

// And matches records satisfying every filter.
func And(filters ...Filter) Filter { return groupFilter{op: "AND", filters: filters} }

// Or matches records satisfying any filter.
func Or(filters ...Filter) Filter { return groupFilter{op: "OR", filters: filters} }

func (f groupFilter) Build(resolve ColumnResolver) (string, []any, error) {
	if len(f.filters) == 0 {
		if f.op == "AND" {
			return "1", nil, nil
		}
		return "0", nil, nil
	}
	parts := make([]string, 0, len(f.filters))
	var args []any
	for _, sub := range f.filters {
		frag, subArgs, err := sub.Build(resolve)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, "("+frag+")")
		args = append(args, subArgs...)
	}
	return strings.Join(parts, " "+f.op+" "), args, nil
}

type notFilter struct {
	inner Filter
}

// Not negates a filter.
func Not(f Filter) Filter { return notFilter{inner: f} }

func (f notFilter) Build(resolve ColumnResolver) (string, []any, error) {
	frag, args, err := f.inner.Build(resolve)
	if err != nil {
		return "", nil, err
	}
	return "NOT (" + frag + ")", args, nil
}

// Order sorts results. It is not a predicate; Build renders nothing.
type Order struct {
	Field string
	Desc  bool
}

// OrderBy sorts ascending by field.
func OrderBy(field string) Order { return Order{Field: field} }

// OrderByDesc sorts descending by field.
func OrderByDesc(field string) Order { return Order{Field: field, Desc: true} }

func (Order) Build(ColumnResolver) (string, []any, error) { return "1", nil, nil }

// Clause renders the ORDER BY term.
func (o Order) Clause(resolve ColumnResolver) (string, error) {
	col, err := column(resolve, o.Field)
	if err != nil {
		return "", err
	}
	if o.Desc {
		return col + " DESC", nil
	}
	return col + " ASC", nil
}

// Limit caps the number of results.
type Limit int

func (Limit) Build(ColumnResolver) (string, []any, error) { return "1", nil, nil }

// Clauses splits filters into the WHERE expression, its args, the ORDER BY
// list and the limit (0 = none).
func Clauses(resolve ColumnResolver, filters []Filter) (where string, args []any, order []string, limit int, err error) {
	var preds []Filter
	for _, f := range filters {
		switch v := f.(type) {
		case Order:
			clause, err := v.Clause(resolve)
			if err != nil {
				return "", nil, nil, 0, err
			}
			order = append(order, clause)
		case Limit:
			if v < 0 {
				return "", nil, nil, 0, fmt.Errorf("negative limit %d", v)
			}
			limit = int(v)
		default:
			preds = append(preds, f)
		}
	}
	where, args, err = And(preds...).Build(resolve)
	return where, args, order, limit, err
}

// SQLValue converts a Go value into something the driver stores faithfully.
func SQLValue(v any) any {
	switch x := v.(type) {
	case bool:
		if x {
			return 1
		}
		return 0
	default:
		return v
	}
}

func column(resolve ColumnResolver, field string) (string, error) {
	col, ok := resolve(field)
	if !ok {
		return "", fmt.Errorf("unknown filter field %q", field)
	}
	return col, nil
}
