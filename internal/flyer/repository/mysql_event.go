package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"eventflyer/internal/common/cache"
	"eventflyer/internal/common/db"
	"eventflyer/internal/flyer/model"
	pkgrepo "eventflyer/pkg/repository"
)

const eventColumns = "id, title, end_time, flyer_url, updated_at"

// MySQLEventRepository stores events in the MySQL table `events`.
type MySQLEventRepository struct {
	provider db.Provider
	cache    cache.BasicOps
	ttl      time.Duration
	emptyTTL time.Duration
	now      func() time.Time
}

// NewMySQLEventRepository creates the repository; cacheClient may be nil.
func NewMySQLEventRepository(provider db.Provider, cacheClient cache.BasicOps) *MySQLEventRepository {
	return &MySQLEventRepository{
		provider: provider,
		cache:    cacheClient,
		ttl:      defaultEventTTL,
		emptyTTL: defaultEventEmptyTTL,
		now:      time.Now,
	}
}

func (r *MySQLEventRepository) Get(ctx context.Context, id string) (model.Event, error) {
	if id == "" {
		return model.Event{}, pkgrepo.ErrInvalidID
	}
	if r.cache == nil {
		return r.getFromDB(ctx, id)
	}
	event, err := cache.GetWithCached[model.Event](
		ctx,
		r.cache,
		eventKey(id),
		r.ttl,
		r.emptyTTL,
		func(e model.Event) bool { return e.ID == "" },
		marshalEvent,
		unmarshalEvent,
		func(ctx context.Context) (model.Event, error) {
			event, err := r.getFromDB(ctx, id)
			if errors.Is(err, ErrEventNotFound) {
				return model.Event{}, nil
			}
			return event, err
		},
	)
	if err != nil {
		return model.Event{}, err
	}
	if event.ID == "" {
		return model.Event{}, ErrEventNotFound
	}
	return event, nil
}

func (r *MySQLEventRepository) getFromDB(ctx context.Context, id string) (model.Event, error) {
	database, err := db.CurrentDatabase(r.provider)
	if err != nil {
		return model.Event{}, err
	}
	row := database.QueryRow(ctx, "SELECT "+eventColumns+" FROM events WHERE id = ?", id)
	event, err := scanEvent(row)
	if err != nil {
		if db.IsNoRows(err) {
			return model.Event{}, ErrEventNotFound
		}
		return model.Event{}, err
	}
	return event, nil
}

func (r *MySQLEventRepository) List(ctx context.Context, opts pkgrepo.ListOptions) ([]model.Event, error) {
	opts = opts.Normalize()
	query := "SELECT " + eventColumns + " FROM events ORDER BY end_time DESC, id LIMIT ? OFFSET ?"
	return r.query(ctx, query, opts.Limit, opts.Offset)
}

func (r *MySQLEventRepository) ListExpired(ctx context.Context, cutoff time.Time) ([]model.Event, error) {
	query := "SELECT " + eventColumns + " FROM events WHERE end_time < ? ORDER BY end_time, id"
	return r.query(ctx, query, cutoff)
}

func (r *MySQLEventRepository) query(ctx context.Context, query string, args ...interface{}) ([]model.Event, error) {
	database, err := db.CurrentDatabase(r.provider)
	if err != nil {
		return nil, err
	}
	rows, err := database.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// SetFlyerURL runs the update and the existence check in one transaction.
func (r *MySQLEventRepository) SetFlyerURL(ctx context.Context, id, url string) error {
	return r.update(ctx, id, true, func(ctx context.Context, q db.Querier) error {
		// MySQL reports zero affected rows when the value is unchanged, so
		// existence is checked separately.
		result, err := q.Exec(ctx,
			"UPDATE events SET flyer_url = ?, updated_at = ? WHERE id = ?",
			url, r.now().UTC(), id)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected > 0 {
			return nil
		}
		var one int
		err = q.QueryRow(ctx, "SELECT 1 FROM events WHERE id = ?", id).Scan(&one)
		if db.IsNoRows(err) {
			return ErrEventNotFound
		}
		return err
	})
}

func (r *MySQLEventRepository) ClearFlyerURL(ctx context.Context, id string) error {
	return r.update(ctx, id, false, func(ctx context.Context, q db.Querier) error {
		_, err := q.Exec(ctx,
			"UPDATE events SET flyer_url = NULL, updated_at = ? WHERE id = ? AND flyer_url IS NOT NULL",
			r.now().UTC(), id)
		return err
	})
}

func (r *MySQLEventRepository) update(ctx context.Context, id string, inTx bool, fn func(context.Context, db.Querier) error) error {
	if id == "" {
		return pkgrepo.ErrInvalidID
	}
	database, err := db.CurrentDatabase(r.provider)
	if err != nil {
		return err
	}
	run := func(ctx context.Context) error {
		var err error
		if inTx {
			err = database.Transaction(ctx, func(tx db.Transaction) error {
				return fn(ctx, db.GetQuerier(database, tx))
			})
		} else {
			err = fn(ctx, db.GetQuerier(database, nil))
		}
		if err != nil {
			return fmt.Errorf("update event %s: %w", id, err)
		}
		return nil
	}
	if r.cache == nil {
		return run(ctx)
	}
	return cache.UpdateCached(ctx, r.cache, eventKey(id), run)
}

func scanEvent(scanner db.Scanner) (model.Event, error) {
	var (
		event    model.Event
		flyerURL sql.NullString
	)
	if err := scanner.Scan(&event.ID, &event.Title, &event.EndTime, &flyerURL, &event.UpdatedAt); err != nil {
		return model.Event{}, err
	}
	if flyerURL.Valid {
		url := flyerURL.String
		event.FlyerURL = &url
	}
	return event, nil
}

var _ EventRepository = (*MySQLEventRepository)(nil)
