package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rajivgeraev/skillmates-api/internal/apperr"
)

func TestRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastRetry, func(ctx context.Context) (int, error) {
		calls++
		return 0, apperr.Validation("неверный ввод")
	})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	assert.Equal(t, 1, calls)
}

func TestRetryGivesUpAfterMaxRetries(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastRetry, func(ctx context.Context) (int, error) {
		calls++
		return 0, apperr.New(apperr.KindTimeout, "таймаут")
	})
	assert.Equal(t, apperr.KindTimeout, apperr.KindOf(err))
	assert.Equal(t, MaxRetries+1, calls)
}
