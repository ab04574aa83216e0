package storage

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Sweep removes expired items from s every interval, until ctx is canceled.
// Storage implementations that do not implement Sweeper are left alone, they
// hide expired items on read.
func Sweep(ctx context.Context, l logrus.FieldLogger, s Storage, interval time.Duration) {
	sw, ok := s.(Sweeper)
	if !ok {
		l.Debug("storage does not support sweeping expired items")
		return
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(interval):
				n, err := sw.DeleteExpired(ctx)
				if err != nil {
					l.WithError(err).Error("failed to delete expired items")
					continue
				}
				if n > 0 {
					l.WithField("count", n).Info("deleted expired items")
				}
			}
		}
	}()
}
