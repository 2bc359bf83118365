package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"eventflyer/internal/flyer/model"
	"eventflyer/internal/flyer/service"
	"eventflyer/internal/testutil"
)

var sweepNow = time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)

func newCleanup(repo *fakeEventRepo, store *fakeStorage, concurrency int) *service.CleanupService {
	return service.NewCleanupService(repo, store, service.CleanupOptions{
		Bucket:      "media",
		Concurrency: concurrency,
		Now:         func() time.Time { return sweepNow },
	})
}

func daysAgo(days int) time.Time {
	return sweepNow.Add(-time.Duration(days) * 24 * time.Hour)
}

func TestSweepCutoffIsStrict(t *testing.T) {
	url := "https://storage.example.com/media/flyers/E1.png?sig=x"
	repo := newFakeEventRepo(
		model.Event{ID: "E1", EndTime: daysAgo(14), FlyerURL: strPtr(url)},
		model.Event{ID: "E2", EndTime: daysAgo(3), FlyerURL: strPtr(url)},
	)
	store := newFakeStorage()

	report, err := newCleanup(repo, store, 0).Sweep(context.Background())
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, report.Cutoff, daysAgo(14))
	testutil.AssertEqual(t, repo.lastCutoff, daysAgo(14))
	testutil.AssertEqual(t, report.Scanned, 0)
	testutil.AssertEqual(t, store.calls(), 0)
	testutil.AssertTrue(t, repo.event("E1").HasFlyer(), "endTime equal to cutoff is kept")
	testutil.AssertTrue(t, repo.event("E2").HasFlyer(), "recent event is kept")
}

func TestSweepSkipsEventsWithoutFlyer(t *testing.T) {
	repo := newFakeEventRepo(model.Event{ID: "E1", EndTime: daysAgo(30)})
	store := newFakeStorage()

	report, err := newCleanup(repo, store, 0).Sweep(context.Background())
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, report.Scanned, 1)
	testutil.AssertEqual(t, report.WithFlyer, 0)
	testutil.AssertEqual(t, store.calls(), 0)
	testutil.AssertEqual(t, repo.mutations(), 0)
}

func TestSweepTreatsEmptyURLAsNoFlyer(t *testing.T) {
	repo := newFakeEventRepo(model.Event{ID: "E1", EndTime: daysAgo(30), FlyerURL: strPtr("")})
	store := newFakeStorage()

	report, err := newCleanup(repo, store, 0).Sweep(context.Background())
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, report.WithFlyer, 0)
	testutil.AssertEqual(t, len(report.Failed), 0)
	testutil.AssertEqual(t, store.calls(), 0)
	testutil.AssertEqual(t, repo.mutations(), 0)
}

func TestSweepDeletesAndClears(t *testing.T) {
	repo := newFakeEventRepo(model.Event{
		ID:       "E456",
		EndTime:  daysAgo(20),
		FlyerURL: strPtr("https://storage.example.com/media/flyers/E456.jpg?X-Goog-Signature=abc"),
	})
	store := newFakeStorage()

	report, err := newCleanup(repo, store, 0).Sweep(context.Background())
	testutil.AssertNoError(t, err)
	testutil.AssertDiff(t, store.deletedKeys(), []string{"flyers/E456.jpg"})
	testutil.AssertFalse(t, repo.event("E456").HasFlyer(), "flyer url should be cleared")
	testutil.AssertDiff(t, report, service.SweepReport{
		Cutoff:    daysAgo(14),
		Scanned:   1,
		WithFlyer: 1,
		Cleaned:   1,
	})
}

func TestSweepKeepsURLWhenDeleteFails(t *testing.T) {
	repo := newFakeEventRepo(model.Event{
		ID:       "E456",
		EndTime:  daysAgo(20),
		FlyerURL: strPtr("https://storage.example.com/media/flyers/E456.jpg"),
	})
	store := newFakeStorage()
	store.deleteErr["flyers/E456.jpg"] = errors.New("permission denied")

	report, err := newCleanup(repo, store, 0).Sweep(context.Background())
	testutil.AssertNoError(t, err)
	testutil.AssertTrue(t, repo.event("E456").HasFlyer(), "url kept when the delete fails")
	testutil.AssertEqual(t, report.Cleaned, 0)
	testutil.AssertDiff(t, report.Failed, []service.RecordFailure{{
		EventID: "E456",
		Stage:   service.StageDeleteObject,
		Error:   "permission denied",
	}})
}

func TestSweepIsolatesFailures(t *testing.T) {
	var events []model.Event
	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("E%d", i)
		events = append(events, model.Event{
			ID:       id,
			EndTime:  daysAgo(15 + i),
			FlyerURL: strPtr("https://storage.example.com/media/flyers/" + id + ".png"),
		})
	}
	events = append(events, model.Event{ID: "Ebad", EndTime: daysAgo(40), FlyerURL: strPtr("https://storage.example.com/")})
	repo := newFakeEventRepo(events...)
	repo.clearErr["E4"] = errors.New("write conflict")
	store := newFakeStorage()
	store.deleteErr["flyers/E2.png"] = errors.New("timeout")

	report, err := newCleanup(repo, store, 2).Sweep(context.Background())
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, report.Scanned, 6)
	testutil.AssertEqual(t, report.WithFlyer, 6)
	testutil.AssertEqual(t, report.Cleaned, 3)
	testutil.AssertDiff(t, store.deletedKeys(), []string{"flyers/E1.png", "flyers/E3.png", "flyers/E4.png", "flyers/E5.png"})

	stages := map[string]string{}
	for _, f := range report.Failed {
		stages[f.EventID] = f.Stage
	}
	testutil.AssertDiff(t, stages, map[string]string{
		"E2":   service.StageDeleteObject,
		"E4":   service.StageClearURL,
		"Ebad": service.StageParseURL,
	})
	for _, id := range []string{"E1", "E3", "E5"} {
		testutil.AssertFalse(t, repo.event(id).HasFlyer(), id+" should be cleaned")
	}
	testutil.AssertTrue(t, repo.event("E2").HasFlyer(), "E2 keeps its url")
}

func TestSweepIsIdempotent(t *testing.T) {
	repo := newFakeEventRepo(
		model.Event{ID: "E1", EndTime: daysAgo(20), FlyerURL: strPtr("https://s/media/flyers/E1.png")},
		model.Event{ID: "E2", EndTime: daysAgo(21), FlyerURL: strPtr("https://s/media/flyers/E2.png")},
	)
	store := newFakeStorage()
	cleanup := newCleanup(repo, store, 0)

	_, err := cleanup.Sweep(context.Background())
	testutil.AssertNoError(t, err)
	mutations, calls := repo.mutations(), store.calls()

	report, err := cleanup.Sweep(context.Background())
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, report.WithFlyer, 0)
	testutil.AssertEqual(t, len(report.Failed), 0)
	testutil.AssertEqual(t, repo.mutations(), mutations)
	testutil.AssertEqual(t, store.calls(), calls)
}

func TestSweepListFailureAborts(t *testing.T) {
	repo := newFakeEventRepo()
	repo.listErr = errors.New("store unavailable")
	_, err := newCleanup(repo, newFakeStorage(), 0).Sweep(context.Background())
	testutil.AssertError(t, err)
}

func TestSweepRespectsConcurrency(t *testing.T) {
	var events []model.Event
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("E%d", i)
		events = append(events, model.Event{ID: id, EndTime: daysAgo(20), FlyerURL: strPtr("https://s/b/flyers/" + id + ".png")})
	}
	repo := newFakeEventRepo(events...)
	store := newFakeStorage()
	store.delay = 20 * time.Millisecond

	report, err := newCleanup(repo, store, 3).Sweep(context.Background())
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, report.Cleaned, 8)
	testutil.AssertTrue(t, store.maxFlight <= 3, fmt.Sprintf("max in flight %d exceeds limit", store.maxFlight))
	testutil.AssertTrue(t, store.maxFlight > 1, "records should run concurrently")
}
