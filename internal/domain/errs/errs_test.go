package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"wrapped not found", fmt.Errorf("batch abc: %w", ErrNotFound), KindNotFound},
		{"transport", fmt.Errorf("fetch: %w", ErrTransport), KindTransport},
		{"validation", ErrValidation, KindValidation},
		{"invalid state", fmt.Errorf("x: %w", ErrInvalidState), KindInvalidState},
		{"conflict", fmt.Errorf("x: %w", ErrConflict), KindConflict},
		{"plain", errors.New("boom"), KindInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, KindOf(tc.err))
		})
	}
}
