package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "without underlying error",
			err:  New(ErrInternal, "something failed"),
			want: "[INTERNAL] something failed",
		},
		{
			name: "with underlying error",
			err:  Wrap(ErrLocalStorage, "write record", stderrors.New("disk full")),
			want: "[LOCAL_STORAGE] write record: disk full",
		},
		{
			name: "formatted",
			err:  Newf(ErrInvalid, "bad field %q", "price"),
			want: `[INVALID_INPUT] bad field "price"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := stderrors.New("io failure")
	err := Wrap(ErrLocalStorage, "commit", cause)

	assert.ErrorIs(t, err, cause)
	assert.Nil(t, New(ErrInternal, "x").Unwrap())
}

func TestIs_FollowsWrapChain(t *testing.T) {
	inner := NotFound("property", "abc")
	wrapped := fmt.Errorf("update: %w", inner)

	assert.True(t, Is(wrapped, ErrNotFound))
	assert.True(t, IsNotFound(wrapped))
	assert.False(t, Is(wrapped, ErrLocalStorage))
	assert.False(t, Is(stderrors.New("plain"), ErrNotFound))
	assert.False(t, Is(nil, ErrNotFound))
}

func TestCodeOf(t *testing.T) {
	require.Equal(t, ErrLocalStorage, CodeOf(fmt.Errorf("ctx: %w", Wrap(ErrLocalStorage, "x", nil))))
	require.Equal(t, ErrInternal, CodeOf(stderrors.New("plain")))
	assert.True(t, IsLocalStorage(Wrap(ErrLocalStorage, "x", nil)))
}
