package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"eventflyer/internal/flyer/model"
	pkgrepo "eventflyer/pkg/repository"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/option"
)

const eventKind = "events"

// DatastoreConfig holds Cloud Datastore settings.
type DatastoreConfig struct {
	ProjectID       string `yaml:"projectID"`
	CredentialsFile string `yaml:"credentialsFile"`
}

// DatastoreEventRepository stores events as kind "events" keyed by id.
type DatastoreEventRepository struct {
	client *datastore.Client
	now    func() time.Time
}

// NewDatastoreClient dials Cloud Datastore for cfg.
func NewDatastoreClient(ctx context.Context, cfg DatastoreConfig, opts ...option.ClientOption) (*datastore.Client, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("datastore projectID is required")
	}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := datastore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create datastore client failed: %w", err)
	}
	return client, nil
}

func NewDatastoreEventRepository(client *datastore.Client) *DatastoreEventRepository {
	return &DatastoreEventRepository{client: client, now: time.Now}
}

// eventEntity maps model.Event onto datastore properties. flyerUrl is
// stored as an explicit null when the event has no flyer. Properties the
// service does not model are carried in extra and written back unchanged.
type eventEntity struct {
	model.Event
	extra []datastore.Property
}

func (e *eventEntity) Load(props []datastore.Property) error {
	e.extra = e.extra[:0]
	for _, p := range props {
		switch p.Name {
		case "title":
			e.Title, _ = p.Value.(string)
		case "endTime":
			e.EndTime, _ = p.Value.(time.Time)
		case "updatedAt":
			e.UpdatedAt, _ = p.Value.(time.Time)
		case "flyerUrl":
			switch v := p.Value.(type) {
			case nil:
				e.FlyerURL = nil
			case string:
				e.FlyerURL = &v
			default:
				return fmt.Errorf("flyerUrl has unexpected type %T", p.Value)
			}
		default:
			e.extra = append(e.extra, p)
		}
	}
	return nil
}

func (e *eventEntity) Save() ([]datastore.Property, error) {
	var flyerURL interface{}
	if e.FlyerURL != nil {
		flyerURL = *e.FlyerURL
	}
	props := make([]datastore.Property, 0, 4+len(e.extra))
	props = append(props,
		datastore.Property{Name: "title", Value: e.Title, NoIndex: true},
		datastore.Property{Name: "endTime", Value: e.EndTime},
		datastore.Property{Name: "flyerUrl", Value: flyerURL, NoIndex: true},
		datastore.Property{Name: "updatedAt", Value: e.UpdatedAt, NoIndex: true},
	)
	return append(props, e.extra...), nil
}

func (r *DatastoreEventRepository) Get(ctx context.Context, id string) (model.Event, error) {
	if id == "" {
		return model.Event{}, pkgrepo.ErrInvalidID
	}
	var entity eventEntity
	if err := r.client.Get(ctx, datastore.NameKey(eventKind, id, nil), &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return model.Event{}, ErrEventNotFound
		}
		return model.Event{}, err
	}
	entity.ID = id
	return entity.Event, nil
}

func (r *DatastoreEventRepository) List(ctx context.Context, opts pkgrepo.ListOptions) ([]model.Event, error) {
	opts = opts.Normalize()
	q := datastore.NewQuery(eventKind).Order("-endTime").Offset(opts.Offset).Limit(opts.Limit)
	return r.getAll(ctx, q)
}

func (r *DatastoreEventRepository) ListExpired(ctx context.Context, cutoff time.Time) ([]model.Event, error) {
	q := datastore.NewQuery(eventKind).FilterField("endTime", "<", cutoff)
	return r.getAll(ctx, q)
}

func (r *DatastoreEventRepository) getAll(ctx context.Context, q *datastore.Query) ([]model.Event, error) {
	var entities []eventEntity
	keys, err := r.client.GetAll(ctx, q, &entities)
	if err != nil {
		return nil, err
	}
	events := make([]model.Event, 0, len(entities))
	for i, entity := range entities {
		entity.ID = keys[i].Name
		events = append(events, entity.Event)
	}
	return events, nil
}

func (r *DatastoreEventRepository) SetFlyerURL(ctx context.Context, id, url string) error {
	return r.mutate(ctx, id, func(e *eventEntity) bool {
		e.FlyerURL = &url
		return true
	})
}

func (r *DatastoreEventRepository) ClearFlyerURL(ctx context.Context, id string) error {
	err := r.mutate(ctx, id, func(e *eventEntity) bool {
		if e.FlyerURL == nil {
			return false
		}
		e.FlyerURL = nil
		return true
	})
	if errors.Is(err, ErrEventNotFound) {
		return nil
	}
	return err
}

// mutate reads, changes and writes one entity in a transaction. apply
// returns false when nothing needs writing.
func (r *DatastoreEventRepository) mutate(ctx context.Context, id string, apply func(*eventEntity) bool) error {
	if id == "" {
		return pkgrepo.ErrInvalidID
	}
	key := datastore.NameKey(eventKind, id, nil)
	_, err := r.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity eventEntity
		if err := tx.Get(key, &entity); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return ErrEventNotFound
			}
			return err
		}
		if !apply(&entity) {
			return nil
		}
		entity.UpdatedAt = r.now().UTC()
		_, err := tx.Put(key, &entity)
		return err
	})
	if err != nil {
		return fmt.Errorf("update event %s: %w", id, err)
	}
	return nil
}

var _ EventRepository = (*DatastoreEventRepository)(nil)
