package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"eventflyer/internal/common/cache"
	"eventflyer/internal/common/db"
	"eventflyer/internal/testutil"
	pkgrepo "eventflyer/pkg/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var eventRowColumns = []string{"id", "title", "end_time", "flyer_url", "updated_at"}

func newMockRepo(t *testing.T, withCache bool) (*MySQLEventRepository, sqlmock.Sqlmock, *miniredis.Miniredis) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	testutil.AssertNoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	provider := db.NewStaticProvider(db.NewMySQLWithDB(sqlDB))
	if !withCache {
		return NewMySQLEventRepository(provider, nil), mock, nil
	}
	mr := miniredis.RunT(t)
	redisCache, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	testutil.AssertNoError(t, err)
	return NewMySQLEventRepository(provider, redisCache), mock, mr
}

func q(s string) string { return regexp.QuoteMeta(s) }

func TestMySQLListExpired(t *testing.T) {
	repo, mock, _ := newMockRepo(t, false)
	cutoff := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	end := cutoff.Add(-time.Hour)

	mock.ExpectQuery(q("SELECT id, title, end_time, flyer_url, updated_at FROM events WHERE end_time < ?")).
		WithArgs(cutoff).
		WillReturnRows(sqlmock.NewRows(eventRowColumns).
			AddRow("E1", "a", end, "https://x/flyers/E1.png", end).
			AddRow("E2", "b", end, nil, end))

	events, err := repo.ListExpired(context.Background(), cutoff)
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(events), 2)
	testutil.AssertTrue(t, events[0].HasFlyer(), "E1 has a flyer")
	testutil.AssertEqual(t, *events[0].FlyerURL, "https://x/flyers/E1.png")
	testutil.AssertFalse(t, events[1].HasFlyer(), "E2 has no flyer")
	testutil.AssertNoError(t, mock.ExpectationsWereMet())
}

func TestMySQLListExpiredQueryError(t *testing.T) {
	repo, mock, _ := newMockRepo(t, false)
	mock.ExpectQuery("SELECT").WillReturnError(errors.New("connection reset"))
	_, err := repo.ListExpired(context.Background(), time.Now())
	testutil.AssertError(t, err)
}

func TestMySQLList(t *testing.T) {
	repo, mock, _ := newMockRepo(t, false)
	mock.ExpectQuery(q("FROM events ORDER BY end_time DESC, id LIMIT ? OFFSET ?")).
		WithArgs(pkgrepo.DefaultListLimit, 0).
		WillReturnRows(sqlmock.NewRows(eventRowColumns))
	events, err := repo.List(context.Background(), pkgrepo.ListOptions{})
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, len(events), 0)
	testutil.AssertNoError(t, mock.ExpectationsWereMet())
}

func TestMySQLSetFlyerURL(t *testing.T) {
	repo, mock, _ := newMockRepo(t, false)
	mock.ExpectBegin()
	mock.ExpectExec(q("UPDATE events SET flyer_url = ?, updated_at = ? WHERE id = ?")).
		WithArgs("https://x/flyers/E1.png", sqlmock.AnyArg(), "E1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	testutil.AssertNoError(t, repo.SetFlyerURL(context.Background(), "E1", "https://x/flyers/E1.png"))
	testutil.AssertNoError(t, mock.ExpectationsWereMet())
}

func TestMySQLSetFlyerURLUnchangedValue(t *testing.T) {
	repo, mock, _ := newMockRepo(t, false)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE events").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q("SELECT 1 FROM events WHERE id = ?")).
		WithArgs("E1").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectCommit()
	testutil.AssertNoError(t, repo.SetFlyerURL(context.Background(), "E1", "same"))
	testutil.AssertNoError(t, mock.ExpectationsWereMet())
}

func TestMySQLSetFlyerURLMissingEvent(t *testing.T) {
	repo, mock, _ := newMockRepo(t, false)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE events").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q("SELECT 1 FROM events WHERE id = ?")).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"1"}))
	mock.ExpectRollback()
	err := repo.SetFlyerURL(context.Background(), "ghost", "u")
	testutil.AssertTrue(t, errors.Is(err, ErrEventNotFound), "expected ErrEventNotFound")
	testutil.AssertTrue(t, pkgrepo.IsNotFoundError(err), "should match the generic not found error")
	testutil.AssertNoError(t, mock.ExpectationsWereMet())
}

func TestMySQLSetFlyerURLRollsBackOnError(t *testing.T) {
	repo, mock, _ := newMockRepo(t, false)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE events").WillReturnError(errors.New("lock wait timeout"))
	mock.ExpectRollback()
	testutil.AssertError(t, repo.SetFlyerURL(context.Background(), "E1", "u"))
	testutil.AssertNoError(t, mock.ExpectationsWereMet())
}

func TestMySQLClearFlyerURLIsIdempotent(t *testing.T) {
	repo, mock, _ := newMockRepo(t, false)
	stmt := q("UPDATE events SET flyer_url = NULL, updated_at = ? WHERE id = ? AND flyer_url IS NOT NULL")
	mock.ExpectExec(stmt).WithArgs(sqlmock.AnyArg(), "E1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(stmt).WithArgs(sqlmock.AnyArg(), "E1").WillReturnResult(sqlmock.NewResult(0, 0))

	testutil.AssertNoError(t, repo.ClearFlyerURL(context.Background(), "E1"))
	testutil.AssertNoError(t, repo.ClearFlyerURL(context.Background(), "E1"))
	testutil.AssertNoError(t, mock.ExpectationsWereMet())
}

func TestMySQLGetCachesAndInvalidates(t *testing.T) {
	repo, mock, mr := newMockRepo(t, true)
	ctx := context.Background()
	end := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	selectByID := q("SELECT id, title, end_time, flyer_url, updated_at FROM events WHERE id = ?")

	mock.ExpectQuery(selectByID).WithArgs("E1").
		WillReturnRows(sqlmock.NewRows(eventRowColumns).AddRow("E1", "fair", end, nil, end))

	first, err := repo.Get(ctx, "E1")
	testutil.AssertNoError(t, err)
	second, err := repo.Get(ctx, "E1")
	testutil.AssertNoError(t, err)
	testutil.AssertDiff(t, second, first)
	testutil.AssertTrue(t, mr.Exists(eventKey("E1")), "event should be cached")

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE events").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	testutil.AssertNoError(t, repo.SetFlyerURL(ctx, "E1", "https://x/flyers/E1.png"))
	testutil.AssertFalse(t, mr.Exists(eventKey("E1")), "write should invalidate the cache")
	testutil.AssertNoError(t, mock.ExpectationsWereMet())
}

func TestMySQLGetMissingIsCachedAsNull(t *testing.T) {
	repo, mock, mr := newMockRepo(t, true)
	mock.ExpectQuery("SELECT").WithArgs("ghost").WillReturnRows(sqlmock.NewRows(eventRowColumns))

	_, err := repo.Get(context.Background(), "ghost")
	testutil.AssertTrue(t, errors.Is(err, ErrEventNotFound), "expected ErrEventNotFound")
	_, err = repo.Get(context.Background(), "ghost")
	testutil.AssertTrue(t, errors.Is(err, ErrEventNotFound), "cached miss")
	cached, _ := mr.Get(eventKey("ghost"))
	testutil.AssertEqual(t, cached, cache.NullCacheValue)
	testutil.AssertNoError(t, mock.ExpectationsWereMet())
}
