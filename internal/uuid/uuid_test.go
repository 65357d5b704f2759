package uuid

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	id := New()
	require.True(t, IsValid(id), id)

	parsed, err := Parse(id)
	require.NoError(t, err)
	assert.EqualValues(t, 4, parsed.Version())
}

func TestNewLocalID_IsV7AndOrdered(t *testing.T) {
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, NewLocalID())
		time.Sleep(2 * time.Millisecond)
	}

	for _, id := range ids {
		parsed, err := Parse(id)
		require.NoError(t, err)
		assert.EqualValues(t, 7, parsed.Version())
	}
	assert.True(t, sort.StringsAreSorted(ids))
}

func TestNewLocalID_Unique(t *testing.T) {
	seen := make(map[string]bool, 1000)
	for i := 0; i < 1000; i++ {
		id := NewLocalID()
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		ok   bool
	}{
		{"v4", "550e8400-e29b-41d4-a716-446655440000", true},
		{"v7", "01890a5d-ac96-774b-bcce-b302099a8057", true},
		{"uppercase", "550E8400-E29B-41D4-A716-446655440000", true},
		{"no dashes", "550e8400e29b41d4a716446655440000", false},
		{"bad variant", "550e8400-e29b-41d4-c716-446655440000", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.in)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse("not-a-uuid")
	assert.Error(t, err)
}
