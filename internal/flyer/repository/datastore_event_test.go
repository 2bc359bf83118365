package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"eventflyer/internal/flyer/model"
	"eventflyer/internal/testutil"

	"cloud.google.com/go/datastore"
)

func TestEventEntityRoundTrip(t *testing.T) {
	url := "https://example.com/flyers/E1.png"
	end := time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC)
	in := eventEntity{Event: model.Event{Title: "Spring Fair", EndTime: end, FlyerURL: &url}}

	props, err := in.Save()
	testutil.AssertNoError(t, err)

	var out eventEntity
	testutil.AssertNoError(t, out.Load(props))
	testutil.AssertDiff(t, out.Event, in.Event)
}

func TestEventEntityKeepsUnknownProperties(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	stored := []datastore.Property{
		{Name: "title", Value: "Spring Fair", NoIndex: true},
		{Name: "endTime", Value: start.Add(9 * time.Hour)},
		{Name: "location", Value: "Main Hall"},
		{Name: "description", Value: "Bring a friend", NoIndex: true},
		{Name: "startTime", Value: start},
		{Name: "flyerUrl", Value: nil, NoIndex: true},
	}

	var entity eventEntity
	testutil.AssertNoError(t, entity.Load(stored))
	url := "https://example.com/flyers/E1.png"
	entity.FlyerURL = &url

	saved, err := entity.Save()
	testutil.AssertNoError(t, err)
	byName := make(map[string]datastore.Property, len(saved))
	for _, p := range saved {
		byName[p.Name] = p
	}
	testutil.AssertEqual(t, len(saved), 7)
	testutil.AssertEqual(t, byName["location"].Value, "Main Hall")
	testutil.AssertEqual(t, byName["description"].Value, "Bring a friend")
	testutil.AssertTrue(t, byName["description"].NoIndex, "index flag should be kept")
	testutil.AssertEqual(t, byName["startTime"].Value, start)
	testutil.AssertEqual(t, byName["flyerUrl"].Value, url)
	testutil.AssertEqual(t, byName["title"].Value, "Spring Fair")
}

func TestEventEntityNullFlyer(t *testing.T) {
	in := eventEntity{Event: model.Event{Title: "No flyer"}}
	props, err := in.Save()
	testutil.AssertNoError(t, err)
	for _, p := range props {
		if p.Name == "flyerUrl" {
			testutil.AssertNil(t, p.Value)
		}
	}

	out := eventEntity{}
	stale := "stale"
	out.FlyerURL = &stale
	testutil.AssertNoError(t, out.Load([]datastore.Property{{Name: "flyerUrl", Value: nil}}))
	testutil.AssertFalse(t, out.HasFlyer(), "null property should clear the url")

	err = out.Load([]datastore.Property{{Name: "flyerUrl", Value: int64(3)}})
	testutil.AssertError(t, err)
}

// Runs against the datastore emulator when DATASTORE_EMULATOR_HOST is set.
func TestDatastoreEventRepositoryEmulator(t *testing.T) {
	if os.Getenv("DATASTORE_EMULATOR_HOST") == "" {
		t.Skip("DATASTORE_EMULATOR_HOST not set")
	}
	ctx := context.Background()
	client, err := NewDatastoreClient(ctx, DatastoreConfig{ProjectID: "eventflyer-test"})
	testutil.AssertNoError(t, err)
	defer client.Close()
	repo := NewDatastoreEventRepository(client)

	now := time.Now().UTC().Truncate(time.Millisecond)
	key := datastore.NameKey(eventKind, "emu-E1", nil)
	_, err = client.Put(ctx, key, &eventEntity{Event: model.Event{Title: "old", EndTime: now.Add(-30 * 24 * time.Hour)}})
	testutil.AssertNoError(t, err)
	defer client.Delete(ctx, key)

	testutil.AssertNoError(t, repo.SetFlyerURL(ctx, "emu-E1", "https://x/flyers/emu-E1.png"))
	got, err := repo.Get(ctx, "emu-E1")
	testutil.AssertNoError(t, err)
	testutil.AssertTrue(t, got.HasFlyer(), "flyer should be set")

	testutil.AssertNoError(t, repo.ClearFlyerURL(ctx, "emu-E1"))
	testutil.AssertNoError(t, repo.ClearFlyerURL(ctx, "emu-E1"))
	got, err = repo.Get(ctx, "emu-E1")
	testutil.AssertNoError(t, err)
	testutil.AssertFalse(t, got.HasFlyer(), "flyer should be cleared")

	err = repo.SetFlyerURL(ctx, "emu-missing", "u")
	testutil.AssertTrue(t, errors.Is(err, ErrEventNotFound), "missing entity")
}
