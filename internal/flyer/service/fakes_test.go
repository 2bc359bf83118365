package service_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"eventflyer/internal/common/storage"
	"eventflyer/internal/flyer/model"
	"eventflyer/internal/flyer/repository"
	pkgrepo "eventflyer/pkg/repository"
)

type fakeEventRepo struct {
	mu         sync.Mutex
	events     map[string]model.Event
	listErr    error
	setErr     error
	clearErr   map[string]error
	sets       []string
	clears     []string
	lastCutoff time.Time
}

func newFakeEventRepo(events ...model.Event) *fakeEventRepo {
	r := &fakeEventRepo{events: make(map[string]model.Event), clearErr: make(map[string]error)}
	for _, e := range events {
		r.events[e.ID] = e
	}
	return r
}

func (r *fakeEventRepo) Get(_ context.Context, id string) (model.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[id]
	if !ok {
		return model.Event{}, repository.ErrEventNotFound
	}
	return e, nil
}

func (r *fakeEventRepo) List(_ context.Context, _ pkgrepo.ListOptions) ([]model.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Event, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeEventRepo) ListExpired(_ context.Context, cutoff time.Time) ([]model.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastCutoff = cutoff
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []model.Event
	for _, e := range r.events {
		if e.EndTime.Before(cutoff) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeEventRepo) SetFlyerURL(_ context.Context, id, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.setErr != nil {
		return r.setErr
	}
	e, ok := r.events[id]
	if !ok {
		return repository.ErrEventNotFound
	}
	e.FlyerURL = &url
	r.events[id] = e
	r.sets = append(r.sets, id)
	return nil
}

func (r *fakeEventRepo) ClearFlyerURL(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.clearErr[id]; err != nil {
		return err
	}
	e, ok := r.events[id]
	if !ok || e.FlyerURL == nil {
		return nil
	}
	e.FlyerURL = nil
	r.events[id] = e
	r.clears = append(r.clears, id)
	return nil
}

func (r *fakeEventRepo) event(id string) model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[id]
}

func (r *fakeEventRepo) mutations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sets) + len(r.clears)
}

type fakeStorage struct {
	mu         sync.Mutex
	presignErr error
	deleteErr  map[string]error
	objects    map[string]storage.ObjectStat
	statErr    error
	presigned  []string
	deleted    []string
	inFlight   int
	maxFlight  int
	delay      time.Duration
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{deleteErr: make(map[string]error), objects: make(map[string]storage.ObjectStat)}
}

func (s *fakeStorage) PresignGet(_ context.Context, bucket, key string, _ time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.presignErr != nil {
		return "", s.presignErr
	}
	s.presigned = append(s.presigned, key)
	return "https://storage.example.com/" + bucket + "/" + key + "?sig=abc", nil
}

func (s *fakeStorage) DeleteObject(_ context.Context, _ string, key string) error {
	s.mu.Lock()
	s.inFlight++
	if s.inFlight > s.maxFlight {
		s.maxFlight = s.inFlight
	}
	s.mu.Unlock()

	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight--
	if err := s.deleteErr[key]; err != nil {
		return err
	}
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *fakeStorage) StatObject(_ context.Context, _ string, key string) (storage.ObjectStat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statErr != nil {
		return storage.ObjectStat{}, s.statErr
	}
	stat, ok := s.objects[key]
	if !ok {
		return storage.ObjectStat{}, storage.ErrObjectNotFound
	}
	return stat, nil
}

func (s *fakeStorage) deletedKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]string(nil), s.deleted...)
	sort.Strings(out)
	return out
}

func (s *fakeStorage) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.presigned) + len(s.deleted)
}

func strPtr(s string) *string { return &s }
