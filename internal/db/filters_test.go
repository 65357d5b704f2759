package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testResolver(field string) (string, bool) {
	switch field {
	case "city":
		return "city", true
	case "price":
		return "price", true
	case "syncStatus":
		return "sync_status", true
	case "read":
		return "is_read", true
	}
	return "", false
}

func TestFilters_Build(t *testing.T) {
	tests := []struct {
		name     string
		filter   Filter
		wantSQL  string
		wantArgs []any
	}{
		{"eq", Eq("city", "Lyon"), "city = ?", []any{"Lyon"}},
		{"eq nil", Eq("city", nil), "city IS NULL", nil},
		{"eq bool", Eq("read", true), "is_read = ?", []any{1}},
		{"gt", Gt("price", 100), "price > ?", []any{100}},
		{"in", In("syncStatus", "pending", "error"), "sync_status IN (?, ?)", []any{"pending", "error"}},
		{"in empty", In("city"), "0", nil},
		{"is set", IsSet("city"), "(city IS NOT NULL AND city <> '')", nil},
		{
			"and/or/not",
			And(Eq("city", "Lyon"), Or(Lt("price", 10), Not(Eq("read", false)))),
			"(city = ?) AND ((price < ?) OR (NOT (is_read = ?)))",
			[]any{"Lyon", 10, 0},
		},
		{"empty and", And(), "1", nil},
		{"empty or", Or(), "0", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args, err := tt.filter.Build(testResolver)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestFilters_UnknownField(t *testing.T) {
	_, _, err := Eq("password; DROP TABLE", 1).Build(testResolver)
	assert.Error(t, err)

	_, _, err = Or(Eq("city", "x"), Eq("nope", 1)).Build(testResolver)
	assert.Error(t, err)
}

func TestClauses(t *testing.T) {
	where, args, order, limit, err := Clauses(testResolver, []Filter{
		Eq("city", "Lyon"),
		OrderByDesc("price"),
		Limit(5),
	})
	require.NoError(t, err)
	assert.Equal(t, "(city = ?)", where)
	assert.Equal(t, []any{"Lyon"}, args)
	assert.Equal(t, []string{"price DESC"}, order)
	assert.Equal(t, 5, limit)

	_, _, _, _, err = Clauses(testResolver, []Filter{Limit(-1)})
	assert.Error(t, err)
}

func TestValidFieldName(t *testing.T) {
	assert.True(t, ValidFieldName("listingType"))
	assert.True(t, ValidFieldName("owner_id"))
	assert.False(t, ValidFieldName("a.b"))
	assert.False(t, ValidFieldName("x') OR 1=1 --"))
	assert.False(t, ValidFieldName(""))
}
