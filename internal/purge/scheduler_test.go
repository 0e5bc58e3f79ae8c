package purge_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/forgecommerce/storefront/internal/purge"
	"github.com/forgecommerce/storefront/internal/registry"
)

type countingRegistry struct {
	calls atomic.Int32
	ran   chan struct{}
}

func (c *countingRegistry) PurgeCandidates(context.Context, time.Time, int) (registry.CandidateBatch, error) {
	if c.calls.Add(1) == 1 {
		close(c.ran)
	}
	return registry.CandidateBatch{}, nil
}

func (c *countingRegistry) RemovePurged(context.Context, uuid.UUID, []string) (int, error) {
	return 0, nil
}

func TestScheduler_RunsOnStartAndStops(t *testing.T) {
	reg := &countingRegistry{ran: make(chan struct{})}
	job := purge.NewJob(reg, newMockStorage(), purge.Options{}, nil)
	s := purge.NewScheduler(job, time.Hour, nil)

	s.Start(context.Background())

	select {
	case <-reg.ran:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not run the job on start")
	}

	s.Stop()
	s.Stop() // idempotent

	if got := reg.calls.Load(); got != 1 {
		t.Errorf("runs = %d, want 1 within the first interval", got)
	}
}

func TestScheduler_Ticks(t *testing.T) {
	reg := &countingRegistry{ran: make(chan struct{})}
	job := purge.NewJob(reg, newMockStorage(), purge.Options{}, nil)
	s := purge.NewScheduler(job, 10*time.Millisecond, nil)

	s.Start(context.Background())
	defer s.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for reg.calls.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("runs = %d after 5s, want at least 3", reg.calls.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
