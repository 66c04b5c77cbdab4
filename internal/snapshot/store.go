package snapshot

import "time"

type storeClock struct {
	now func() time.Time
}

type StoreOption func(*storeClock)

func WithStoreClock(now func() time.Time) StoreOption {
	return func(c *storeClock) { c.now = now }
}

func newStoreClock(opts []StoreOption) storeClock {
	c := storeClock{now: time.Now}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}
