package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ferregold/image-scraper/internal/catalog"
)

type scriptedFinder struct {
	results map[string]string
	err     error
	calls   []string
}

func (f *scriptedFinder) FindImage(_ context.Context, query string) (string, error) {
	f.calls = append(f.calls, query)
	if f.err != nil {
		return "", f.err
	}
	if src, ok := f.results[query]; ok {
		return src, nil
	}
	return "", catalog.ErrNoResult
}

type setChecker struct {
	valid map[string]bool
}

func (c *setChecker) Check(_ context.Context, url string) bool {
	return c.valid[url]
}

func strptr(s string) *string { return &s }

func TestRun_SkipsValidExistingImage(t *testing.T) {
	t.Parallel()

	primary := &scriptedFinder{}
	fallback := &scriptedFinder{}
	checker := &setChecker{valid: map[string]bool{"https://good.example/x.jpg": true}}
	orch := New(primary, fallback, checker, 0, nil)

	products := []catalog.ProductRecord{
		{Producto: "mouse", ImageURL: strptr("https://good.example/x.jpg")},
	}

	var progress []catalog.Progress
	results, err := orch.Run(context.Background(), products, func(p catalog.Progress) {
		progress = append(progress, p)
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "https://good.example/x.jpg", *results[0].ImageURL)
	require.Empty(t, primary.calls, "primary must not run for a valid existing image")
	require.Empty(t, fallback.calls)
	require.Len(t, progress, 1)
	require.Equal(t, catalog.OutcomeSkipped, progress[0].Outcome)
	require.Equal(t, 1, progress[0].Position)
	require.Equal(t, 1, progress[0].Total)
}

func TestRun_PrimaryWinsAndFallbackNeverRuns(t *testing.T) {
	t.Parallel()

	primary := &scriptedFinder{results: map[string]string{"taladro": "https://gold.example/t.jpg"}}
	fallback := &scriptedFinder{}
	checker := &setChecker{valid: map[string]bool{"https://gold.example/t.jpg": true}}
	orch := New(primary, fallback, checker, 0, nil)

	results, err := orch.Run(context.Background(), []catalog.ProductRecord{{Producto: "taladro"}}, nil)
	require.NoError(t, err)
	require.Equal(t, "https://gold.example/t.jpg", *results[0].ImageURL)
	require.Empty(t, fallback.calls, "fallback must not run when primary yields a valid candidate")
}

func TestRun_InvalidPrimaryCandidateFallsThrough(t *testing.T) {
	t.Parallel()

	primary := &scriptedFinder{results: map[string]string{"sierra": "https://gold.example/dead.jpg"}}
	fallback := &scriptedFinder{results: map[string]string{"sierra": "https://img.example/s.jpg"}}
	checker := &setChecker{valid: map[string]bool{"https://img.example/s.jpg": true}}
	orch := New(primary, fallback, checker, 0, nil)

	var outcomes []catalog.ItemOutcome
	results, err := orch.Run(context.Background(), []catalog.ProductRecord{{Producto: "sierra"}}, func(p catalog.Progress) {
		outcomes = append(outcomes, p.Outcome)
	})
	require.NoError(t, err)
	require.Equal(t, "https://img.example/s.jpg", *results[0].ImageURL)
	require.Equal(t, []catalog.ItemOutcome{catalog.OutcomeFound}, outcomes)
	require.Equal(t, []string{"sierra"}, fallback.calls)
}

func TestRun_AllSourcesExhaustedGivesNotFound(t *testing.T) {
	t.Parallel()

	orch := New(&scriptedFinder{}, &scriptedFinder{}, &setChecker{}, 0, nil)

	var outcomes []catalog.ItemOutcome
	results, err := orch.Run(context.Background(), []catalog.ProductRecord{{Producto: "inexistente"}}, func(p catalog.Progress) {
		outcomes = append(outcomes, p.Outcome)
	})
	require.NoError(t, err)
	require.Nil(t, results[0].ImageURL)
	require.Equal(t, []catalog.ItemOutcome{catalog.OutcomeNotFound}, outcomes)
}

func TestRun_StaleExistingImageIsRescraped(t *testing.T) {
	t.Parallel()

	primary := &scriptedFinder{results: map[string]string{"pinza": "https://gold.example/p.jpg"}}
	checker := &setChecker{valid: map[string]bool{"https://gold.example/p.jpg": true}}
	orch := New(primary, &scriptedFinder{}, checker, 0, nil)

	products := []catalog.ProductRecord{
		{Producto: "pinza", ImageURL: strptr("https://old.example/404.jpg")},
	}
	results, err := orch.Run(context.Background(), products, nil)
	require.NoError(t, err)
	require.Equal(t, "https://gold.example/p.jpg", *results[0].ImageURL)
	require.Equal(t, []string{"pinza"}, primary.calls)
}

func TestRun_PreservesInputOrderAndLength(t *testing.T) {
	t.Parallel()

	primary := &scriptedFinder{results: map[string]string{
		"a": "https://gold.example/a.jpg",
		"c": "https://gold.example/c.jpg",
	}}
	checker := &setChecker{valid: map[string]bool{
		"https://gold.example/a.jpg": true,
		"https://gold.example/c.jpg": true,
	}}
	orch := New(primary, &scriptedFinder{}, checker, 0, nil)

	batch := []catalog.ProductRecord{{Producto: "a"}, {Producto: "b"}, {Producto: "c"}}
	var positions []int
	results, err := orch.Run(context.Background(), batch, func(p catalog.Progress) {
		positions = append(positions, p.Position)
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Equal(t, []int{1, 2, 3}, positions)
	require.Equal(t, "a", results[0].Producto)
	require.Nil(t, results[1].ImageURL)
	require.Equal(t, "https://gold.example/c.jpg", *results[2].ImageURL)
}

func TestRun_SourceFailureAbortsBatch(t *testing.T) {
	t.Parallel()

	boom := errors.New("browser session died")
	primary := &scriptedFinder{err: boom}
	orch := New(primary, &scriptedFinder{}, &setChecker{}, 0, nil)

	results, err := orch.Run(context.Background(), []catalog.ProductRecord{{Producto: "x"}}, nil)
	require.Nil(t, results)
	require.ErrorIs(t, err, boom)
}

func TestRun_EmptyBatch(t *testing.T) {
	t.Parallel()

	orch := New(&scriptedFinder{}, &scriptedFinder{}, &setChecker{}, 0, nil)
	results, err := orch.Run(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestRun_CanceledDuringDelay(t *testing.T) {
	t.Parallel()

	primary := &scriptedFinder{results: map[string]string{
		"a": "https://gold.example/a.jpg",
		"b": "https://gold.example/b.jpg",
	}}
	checker := &setChecker{valid: map[string]bool{
		"https://gold.example/a.jpg": true,
		"https://gold.example/b.jpg": true,
	}}
	orch := New(primary, &scriptedFinder{}, checker, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	// Cancel once the first item's progress has been reported, while the
	// orchestrator sits in the inter-item delay.
	_, err := orch.Run(ctx, []catalog.ProductRecord{{Producto: "a"}, {Producto: "b"}}, func(catalog.Progress) {
		cancel()
	})
	require.ErrorIs(t, err, context.Canceled)
}
