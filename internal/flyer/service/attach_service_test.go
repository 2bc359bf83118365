package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"eventflyer/internal/common/storage"
	"eventflyer/internal/flyer/model"
	"eventflyer/internal/flyer/service"
	"eventflyer/internal/testutil"
	pkgerrors "eventflyer/pkg/errors"
)

func newAttach(repo *fakeEventRepo, store *fakeStorage) *service.AttachService {
	return service.NewAttachService(repo, store, service.AttachOptions{URLTTL: time.Hour})
}

func TestAttachSkipsNonImage(t *testing.T) {
	repo := newFakeEventRepo(model.Event{ID: "E123"})
	store := newFakeStorage()

	result, err := newAttach(repo, store).HandleObjectFinalized(context.Background(), model.ObjectFinalized{
		Bucket: "media", Name: "flyers/E123.pdf", ContentType: "application/pdf",
	})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, result, service.AttachSkippedNotImage)
	testutil.AssertEqual(t, repo.mutations(), 0)
	testutil.AssertEqual(t, store.calls(), 0)
}

func TestAttachSkipsOutsidePrefix(t *testing.T) {
	repo := newFakeEventRepo(model.Event{ID: "E123"})
	store := newFakeStorage()

	result, err := newAttach(repo, store).HandleObjectFinalized(context.Background(), model.ObjectFinalized{
		Bucket: "media", Name: "avatars/E123.png", ContentType: "image/png",
	})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, result, service.AttachSkippedOutsidePrefix)
	testutil.AssertEqual(t, repo.mutations(), 0)
	testutil.AssertEqual(t, store.calls(), 0)
}

func TestAttachSetsFlyerURL(t *testing.T) {
	repo := newFakeEventRepo(model.Event{ID: "E123"}, model.Event{ID: "E999"})
	store := newFakeStorage()

	result, err := newAttach(repo, store).HandleObjectFinalized(context.Background(), model.ObjectFinalized{
		Bucket: "media", Name: "flyers/E123.png", ContentType: "image/png",
	})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, result, service.AttachUpdated)

	got := repo.event("E123")
	testutil.AssertTrue(t, got.HasFlyer(), "E123 should have a flyer")
	testutil.AssertTrue(t, strings.Contains(*got.FlyerURL, "flyers/E123.png"), "url should reference the object")
	testutil.AssertFalse(t, repo.event("E999").HasFlyer(), "other events untouched")
	testutil.AssertDiff(t, repo.sets, []string{"E123"})
}

func TestAttachLastWriteWins(t *testing.T) {
	repo := newFakeEventRepo(model.Event{ID: "E1"})
	store := newFakeStorage()
	attach := newAttach(repo, store)

	for _, name := range []string{"flyers/E1.png", "flyers/E1.jpg"} {
		_, err := attach.HandleObjectFinalized(context.Background(), model.ObjectFinalized{
			Bucket: "media", Name: name, ContentType: "image/png",
		})
		testutil.AssertNoError(t, err)
	}
	testutil.AssertTrue(t, strings.Contains(*repo.event("E1").FlyerURL, "E1.jpg"), "latest upload wins")
}

func TestAttachBadName(t *testing.T) {
	repo := newFakeEventRepo()
	store := newFakeStorage()
	result, err := newAttach(repo, store).HandleObjectFinalized(context.Background(), model.ObjectFinalized{
		Bucket: "media", Name: "flyers/.png", ContentType: "image/png",
	})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, result, service.AttachSkippedBadName)
	testutil.AssertEqual(t, store.calls(), 0)
}

func TestAttachURLFailureIsReturned(t *testing.T) {
	repo := newFakeEventRepo(model.Event{ID: "E1"})
	store := newFakeStorage()
	store.presignErr = errors.New("signer unavailable")

	_, err := newAttach(repo, store).HandleObjectFinalized(context.Background(), model.ObjectFinalized{
		Bucket: "media", Name: "flyers/E1.png", ContentType: "image/png",
	})
	testutil.AssertError(t, err)
	testutil.AssertEqual(t, pkgerrors.GetCode(err), pkgerrors.FlyerAttachFailed)
	testutil.AssertEqual(t, repo.mutations(), 0)
}

func TestAttachUpdateFailureIsReported(t *testing.T) {
	store := newFakeStorage()

	// Unknown event id.
	result, err := newAttach(newFakeEventRepo(), store).HandleObjectFinalized(context.Background(), model.ObjectFinalized{
		Bucket: "media", Name: "flyers/ghost.png", ContentType: "image/png",
	})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, result, service.AttachUpdateFailed)

	repo := newFakeEventRepo(model.Event{ID: "E1"})
	repo.setErr = errors.New("write rejected")
	result, err = newAttach(repo, store).HandleObjectFinalized(context.Background(), model.ObjectFinalized{
		Bucket: "media", Name: "flyers/E1.png", ContentType: "image/png",
	})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, result, service.AttachUpdateFailed)
}

func TestAttachExistingUsesStoredContentType(t *testing.T) {
	repo := newFakeEventRepo(model.Event{ID: "E7"})
	store := newFakeStorage()
	store.objects["flyers/E7.webp"] = storage.ObjectStat{ContentType: "image/webp", SizeBytes: 2048}
	store.objects["flyers/E7.txt"] = storage.ObjectStat{ContentType: "text/plain"}

	result, err := newAttach(repo, store).AttachExisting(context.Background(), "media", "flyers/E7.webp", "")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, result, service.AttachUpdated)
	testutil.AssertTrue(t, repo.event("E7").HasFlyer(), "E7 should have a flyer")

	// Stored metadata beats a caller claiming an image type.
	result, err = newAttach(repo, store).AttachExisting(context.Background(), "media", "flyers/E7.txt", "image/png")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, result, service.AttachSkippedNotImage)
}

func TestAttachExistingMissingObject(t *testing.T) {
	repo := newFakeEventRepo(model.Event{ID: "E8"})
	store := newFakeStorage()

	_, err := newAttach(repo, store).AttachExisting(context.Background(), "media", "flyers/E8.png", "image/png")
	testutil.AssertError(t, err)
	testutil.AssertEqual(t, pkgerrors.GetCode(err), pkgerrors.FlyerObjectNotFound)
	testutil.AssertEqual(t, repo.mutations(), 0)

	store.statErr = errors.New("permission denied")
	_, err = newAttach(repo, store).AttachExisting(context.Background(), "media", "flyers/E8.png", "image/png")
	testutil.AssertEqual(t, pkgerrors.GetCode(err), pkgerrors.FlyerAttachFailed)
}
