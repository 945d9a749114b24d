package db

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
	log "github.com/sirupsen/logrus"

	rmerrors "github.com/twitter/nodepool/common/errors"
)

// RetryPolicy bounds how long one write is retried.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     time.Second,
		MaxElapsedTime:  5 * time.Second,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = p.MaxElapsedTime
	b.Reset()
	return backoff.WithContext(b, ctx)
}

// Retry runs f until it succeeds or the policy gives up. Validation errors
// are returned at once; anything else that outlasts the policy comes back
// as a PersistenceError.
func Retry(ctx context.Context, p RetryPolicy, op string, f func() error) error {
	var permanent error
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := f()
		if rmerrors.IsValidation(err) {
			permanent = err
			return nil
		}
		if err != nil {
			log.Infof("%s failed (attempt %d): %v", op, attempt, err)
		}
		return err
	}, p.backOff(ctx))
	if permanent != nil {
		return permanent
	}
	if err != nil {
		return rmerrors.NewPersistenceError(op, err)
	}
	return nil
}
