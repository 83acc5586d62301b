package queue

import (
	"math/rand/v2"
	"time"
)

// Backoff computes requeue delays: min(Cap, Base*2^retry) jittered into [d/2, d)
type Backoff struct {
	Base time.Duration
	Cap  time.Duration

	rnd func() float64
}

// Delay returns the jittered delay for the given retry count
func (b Backoff) Delay(retry int) time.Duration {
	d := b.ceiling(retry)
	if d <= 1 {
		return d
	}
	r := rand.Float64
	if b.rnd != nil {
		r = b.rnd
	}
	half := d / 2
	return half + time.Duration(r()*float64(d-half))
}

func (b Backoff) ceiling(retry int) time.Duration {
	base, capd := b.Base, b.Cap
	if base <= 0 {
		base = 2 * time.Second
	}
	if capd <= 0 {
		capd = 10 * time.Minute
	}
	if retry < 0 {
		retry = 0
	}
	d := base
	for i := 0; i < retry; i++ {
		if d >= capd/2 {
			return capd
		}
		d *= 2
	}
	return min(d, capd)
}
