package query

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/rajivgeraev/skillmates-api/internal/apperr"
)

// MaxRetries - сколько раз повторяется операция после временной ошибки
const MaxRetries = 3

// RetryPolicy задаёт экспоненциальную задержку между повторами
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxRetries      uint64
}

// DefaultRetryPolicy - политика по умолчанию
var DefaultRetryPolicy = RetryPolicy{
	InitialInterval: 200 * time.Millisecond,
	MaxInterval:     2 * time.Second,
	MaxRetries:      MaxRetries,
}

// Retry выполняет op, повторяя её только при Timeout/NetworkError.
// Остальные ошибки возвращаются сразу.
func Retry[T any](ctx context.Context, p RetryPolicy, op func(context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = 0

	var result T
	err := backoff.Retry(func() error {
		v, err := op(ctx)
		if err == nil {
			result = v
			return nil
		}
		if !apperr.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, p.MaxRetries), ctx))
	return result, err
}
