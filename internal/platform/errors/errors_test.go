package errors

import (
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"plain", sql.ErrNoRows, EInternal},
		{"coded", &Error{Code: ENotFound}, ENotFound},
		{"nested", &Error{Err: &Error{Code: EConflict}}, EConflict},
		{"wrapped by fmt", fmt.Errorf("ctx: %w", &Error{Code: EInvalid}), EInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ErrorCode(tt.err))
		})
	}
}

func TestErrorMessageHidesInternals(t *testing.T) {
	err := Wrap("order.Create", sql.ErrConnDone)
	require.Equal(t, EInternal, ErrorCode(err))
	require.Equal(t, "An internal error has occurred.", ErrorMessage(err))

	require.Equal(t, "order not found", ErrorMessage(NotFound("order")))
	require.Equal(t, "bad sku: empty", ErrorMessage(&Error{Code: EInvalid, Msg: "bad sku", Err: fmt.Errorf("empty")}))
}

func TestWrapKeepsCodedErrors(t *testing.T) {
	orig := Invalidf("quantity must be positive")
	require.Same(t, orig, Wrap("op", orig))
	require.Nil(t, Wrap("op", nil))
	require.True(t, Is(Wrap("op", orig), EInvalid))
}
