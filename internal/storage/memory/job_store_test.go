package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ferregold/image-scraper/internal/catalog"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func strptr(s string) *string { return &s }

func TestJobStoreLifecycle(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0).UTC()}
	store := NewJobStore(clock, 0)
	ctx := context.Background()

	job := catalog.Job{
		ID:        "job-1",
		Status:    catalog.JobStatusProcessing,
		Total:     2,
		StartedAt: clock.now,
	}
	if err := store.Put(ctx, job); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	if err := store.UpdateProgress(ctx, job.ID, 1, "martillo", catalog.OutcomeFound); err != nil {
		t.Fatalf("UpdateProgress() error = %v", err)
	}
	got, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Current != 1 || got.LastProduct != "martillo" || got.LastOutcome != catalog.OutcomeFound {
		t.Fatalf("unexpected progress state: %+v", got)
	}

	results := []catalog.ProductRecord{
		{Producto: "martillo", ImageURL: strptr("https://img.example/m.jpg")},
		{Producto: "tuerca", ImageURL: nil},
	}
	if err := store.Complete(ctx, job.ID, results); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	final, err := store.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get() after complete error = %v", err)
	}
	if final.Status != catalog.JobStatusCompleted || final.Current != 2 || final.CompletedAt == nil {
		t.Fatalf("expected completed job with full progress, got %+v", final)
	}
	if len(final.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(final.Results))
	}

	// Mutating the returned slice must not affect the stored record.
	final.Results[0].Producto = "modified"
	again, _ := store.Get(ctx, job.ID)
	if again.Results[0].Producto != "martillo" {
		t.Fatal("expected Get to return a copy of results")
	}
}

func TestJobStoreTerminalStatesAreInert(t *testing.T) {
	t.Parallel()

	store := NewJobStore(&fakeClock{now: time.Unix(1000, 0).UTC()}, 0)
	ctx := context.Background()

	if err := store.Put(ctx, catalog.Job{ID: "job-2", Status: catalog.JobStatusProcessing, Total: 1}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := store.Fail(ctx, "job-2", "browser crashed"); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}

	// Neither progress nor completion may move a job out of error.
	if err := store.UpdateProgress(ctx, "job-2", 1, "x", catalog.OutcomeFound); err != nil {
		t.Fatalf("UpdateProgress() on terminal job error = %v", err)
	}
	if err := store.Complete(ctx, "job-2", nil); err != nil {
		t.Fatalf("Complete() on terminal job error = %v", err)
	}

	got, err := store.Get(ctx, "job-2")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != catalog.JobStatusError || got.ErrorText != "browser crashed" || got.Current != 0 {
		t.Fatalf("terminal job mutated: %+v", got)
	}
}

func TestJobStoreDuplicatePutOverwrites(t *testing.T) {
	t.Parallel()

	store := NewJobStore(&fakeClock{now: time.Unix(1000, 0).UTC()}, 0)
	ctx := context.Background()

	if err := store.Put(ctx, catalog.Job{ID: "dup", Total: 5}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := store.Put(ctx, catalog.Job{ID: "dup", Total: 9}); err != nil {
		t.Fatalf("second Put() error = %v", err)
	}
	got, err := store.Get(ctx, "dup")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Total != 9 {
		t.Fatalf("expected last-writer-wins, got %+v", got)
	}
}

func TestJobStoreDeleteIsIdempotent(t *testing.T) {
	t.Parallel()

	store := NewJobStore(&fakeClock{now: time.Unix(1000, 0).UTC()}, 0)
	ctx := context.Background()

	if err := store.Put(ctx, catalog.Job{ID: "gone"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := store.Delete(ctx, "gone"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := store.Delete(ctx, "gone"); err != nil {
		t.Fatalf("second Delete() error = %v", err)
	}
	if err := store.Delete(ctx, "never-existed"); err != nil {
		t.Fatalf("Delete() unknown id error = %v", err)
	}
	if _, err := store.Get(ctx, "gone"); !errors.Is(err, catalog.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestJobStoreProgressIsMonotonic(t *testing.T) {
	t.Parallel()

	store := NewJobStore(&fakeClock{now: time.Unix(1000, 0).UTC()}, 0)
	ctx := context.Background()

	if err := store.Put(ctx, catalog.Job{ID: "mono", Status: catalog.JobStatusProcessing, Total: 3}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	_ = store.UpdateProgress(ctx, "mono", 2, "b", catalog.OutcomeFound)
	_ = store.UpdateProgress(ctx, "mono", 1, "a", catalog.OutcomeSkipped)

	got, _ := store.Get(ctx, "mono")
	if got.Current != 2 {
		t.Fatalf("expected current to stay at 2, got %d", got.Current)
	}
}

func TestJobStoreSweep(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0).UTC()}
	store := NewJobStore(clock, 10*time.Minute)
	ctx := context.Background()

	_ = store.Put(ctx, catalog.Job{ID: "old-done", Status: catalog.JobStatusProcessing, Total: 1})
	_ = store.Complete(ctx, "old-done", nil)
	_ = store.Put(ctx, catalog.Job{ID: "old-failed", Status: catalog.JobStatusProcessing})
	_ = store.Fail(ctx, "old-failed", "boom")
	_ = store.Put(ctx, catalog.Job{ID: "in-flight", Status: catalog.JobStatusProcessing, Total: 10})

	// Advance past the TTL; the in-flight job must survive.
	later := clock.now.Add(11 * time.Minute)
	if n := store.Sweep(later); n != 2 {
		t.Fatalf("expected 2 expired jobs, got %d", n)
	}
	if _, err := store.Get(ctx, "in-flight"); err != nil {
		t.Fatalf("in-flight job swept: %v", err)
	}
	if _, err := store.Get(ctx, "old-done"); !errors.Is(err, catalog.ErrJobNotFound) {
		t.Fatalf("expected old-done to be swept, got %v", err)
	}
}

func TestJobStoreSweepDisabled(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(1000, 0).UTC()}
	store := NewJobStore(clock, 0)
	ctx := context.Background()

	_ = store.Put(ctx, catalog.Job{ID: "done", Status: catalog.JobStatusProcessing})
	_ = store.Complete(ctx, "done", nil)

	if n := store.Sweep(clock.now.Add(24 * time.Hour)); n != 0 {
		t.Fatalf("expected sweep disabled, expired %d", n)
	}
}
