package geo

import (
	"context"
	"sync"

	"github.com/diagnosis/chapterhub/internal/domain"
)

// Static always reports the same fix. Used for kiosks and local development.
type Static struct {
	Reading domain.LocationReading
}

func (s Static) Locate(context.Context, Options) (domain.LocationReading, error) {
	return s.Reading, nil
}

type report struct {
	reading domain.LocationReading
	err     error
}

// Relay hands a reading captured by the UI to the request that is waiting for
// it. Reports that arrive while nothing is waiting are dropped, so a later
// request never picks up an old fix.
type Relay struct {
	mu      sync.Mutex
	pending chan report
}

func NewRelay() *Relay {
	return &Relay{}
}

// Offer reports whether a waiting request took the reading.
func (r *Relay) Offer(reading domain.LocationReading) bool {
	return r.deliver(report{reading: reading})
}

// Fail reports whether a waiting request took the failure.
func (r *Relay) Fail(kind Kind) bool {
	return r.deliver(report{err: &Failure{Kind: kind}})
}

// Waiting reports whether a request is pending.
func (r *Relay) Waiting() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending != nil
}

func (r *Relay) deliver(rep report) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == nil {
		return false
	}
	// pending is buffered and receives at most one report
	r.pending <- rep
	r.pending = nil
	return true
}

func (r *Relay) Locate(ctx context.Context, _ Options) (domain.LocationReading, error) {
	ch := make(chan report, 1)
	r.mu.Lock()
	r.pending = ch
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		if r.pending == ch {
			r.pending = nil
		}
		r.mu.Unlock()
	}()

	select {
	case rep := <-ch:
		return rep.reading, rep.err
	case <-ctx.Done():
		return domain.LocationReading{}, &Failure{Kind: Timeout, Err: ctx.Err()}
	}
}
