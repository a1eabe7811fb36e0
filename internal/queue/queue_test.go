package queue

import (
	"context"
	"testing"

	"github.com/itstheanurag/codemare/internal/apperr"
	"github.com/itstheanurag/codemare/internal/models"
)

func TestSubmitRejectsWhenFull(t *testing.T) {
	m := NewManager(2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := m.Submit(NewJob(ctx, models.ExecutionRequest{})); err != nil {
			t.Fatalf("Submit #%d: %v", i, err)
		}
	}
	if err := m.Submit(NewJob(ctx, models.ExecutionRequest{})); !apperr.Is(err, apperr.Busy) {
		t.Fatalf("expected Busy, got %v", err)
	}
	if m.Len() != 2 {
		t.Fatalf("expected 2 queued jobs, got %d", m.Len())
	}

	<-m.NextJob()
	if err := m.Submit(NewJob(ctx, models.ExecutionRequest{})); err != nil {
		t.Fatalf("Submit after dequeue: %v", err)
	}
}

func TestNewJobHasUniqueIDs(t *testing.T) {
	a := NewJob(context.Background(), models.ExecutionRequest{})
	b := NewJob(context.Background(), models.ExecutionRequest{})
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("expected distinct ids, got %q and %q", a.ID, b.ID)
	}
	if cap(a.Result) != 1 || cap(a.Err) != 1 {
		t.Fatal("reply channels must be buffered")
	}
}
