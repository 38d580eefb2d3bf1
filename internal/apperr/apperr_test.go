package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type kindedErr struct{}

func (kindedErr) Error() string   { return "slot taken" }
func (kindedErr) ErrorKind() Kind { return KindSlotUnavailable }

func TestErrorIsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("approve: %w", AlreadyProcessed("reservation %s is %s", "r1", "approved"))

	assert.True(t, errors.Is(err, ErrAlreadyProcessed))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, KindAlreadyProcessed, KindOf(err))
	assert.Equal(t, "approve: reservation r1 is approved", err.Error())
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"plain", errors.New("boom"), KindUnknown},
		{"validation", Validation("bad"), KindValidation},
		{"kinded", fmt.Errorf("wrap: %w", kindedErr{}), KindSlotUnavailable},
		{"store", Store("insert reservation", errors.New("disk I/O error")), KindStoreFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestStore(t *testing.T) {
	assert.Nil(t, Store("op", nil))

	nf := NotFound("cabin 7 not found")
	assert.Same(t, nf, Store("get cabin", nf))

	err := Store("list reservations", context.DeadlineExceeded)
	assert.True(t, errors.Is(err, ErrStoreFailure))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.True(t, Retryable(err))
	assert.False(t, Retryable(Validation("x")))
}
