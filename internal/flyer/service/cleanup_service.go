package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"eventflyer/internal/common/storage"
	"eventflyer/internal/flyer/model"
	"eventflyer/internal/flyer/naming"
	"eventflyer/internal/flyer/repository"
	"eventflyer/pkg/errors"
	"eventflyer/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultRetention     = 14 * 24 * time.Hour
	defaultRecordTimeout = time.Minute
)

// Stages at which a record can fail during a sweep.
const (
	StageParseURL     = "parse_url"
	StageDeleteObject = "delete_object"
	StageClearURL     = "clear_url"
)

// CleanupOptions controls the sweep.
type CleanupOptions struct {
	Bucket    string
	Retention time.Duration

	// Concurrency bounds in-flight records; 0 runs every record at once.
	Concurrency int

	// RecordTimeout bounds the delete-then-clear chain of one record.
	RecordTimeout time.Duration

	Now func() time.Time
}

// RecordFailure describes one record the sweep could not clean.
type RecordFailure struct {
	EventID string `json:"event_id"`
	Stage   string `json:"stage"`
	Error   string `json:"error"`
}

// SweepReport summarizes one sweep.
type SweepReport struct {
	Cutoff    time.Time       `json:"cutoff"`
	Scanned   int             `json:"scanned"`
	WithFlyer int             `json:"with_flyer"`
	Cleaned   int             `json:"cleaned"`
	Failed    []RecordFailure `json:"failed"`
}

// CleanupService removes flyers of events that ended before the retention cutoff.
type CleanupService struct {
	repo          repository.EventRepository
	storage       storage.FlyerStorage
	bucket        string
	retention     time.Duration
	concurrency   int
	recordTimeout time.Duration
	now           func() time.Time
}

func NewCleanupService(repo repository.EventRepository, store storage.FlyerStorage, opts CleanupOptions) *CleanupService {
	retention := opts.Retention
	if retention <= 0 {
		retention = defaultRetention
	}
	recordTimeout := opts.RecordTimeout
	if recordTimeout <= 0 {
		recordTimeout = defaultRecordTimeout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &CleanupService{
		repo:          repo,
		storage:       store,
		bucket:        opts.Bucket,
		retention:     retention,
		concurrency:   opts.Concurrency,
		recordTimeout: recordTimeout,
		now:           now,
	}
}

// Sweep deletes the flyer object and clears flyerUrl for every event whose
// end time is strictly before now minus the retention. Per-record failures
// are logged and reported; only a failed listing aborts the sweep.
func (s *CleanupService) Sweep(ctx context.Context) (SweepReport, error) {
	report := SweepReport{Cutoff: s.now().Add(-s.retention)}

	events, err := s.repo.ListExpired(ctx, report.Cutoff)
	if err != nil {
		logger.Error(ctx, "query expired events failed", zap.Time("cutoff", report.Cutoff), zap.Error(err))
		return report, errors.Wrap(err, errors.FlyerCleanupFailed)
	}
	report.Scanned = len(events)
	if len(events) == 0 {
		logger.Info(ctx, "no expired events with flyers", zap.Time("cutoff", report.Cutoff))
		return report, nil
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	if s.concurrency > 0 {
		g.SetLimit(s.concurrency)
	}
	for _, event := range events {
		if !event.HasFlyer() {
			continue
		}
		report.WithFlyer++
		event := event
		g.Go(func() error {
			failure := s.cleanRecord(ctx, event)
			mu.Lock()
			defer mu.Unlock()
			if failure != nil {
				report.Failed = append(report.Failed, *failure)
			} else {
				report.Cleaned++
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(report.Failed, func(i, j int) bool {
		return report.Failed[i].EventID < report.Failed[j].EventID
	})
	logger.Info(ctx, "flyer cleanup finished",
		zap.Time("cutoff", report.Cutoff),
		zap.Int("scanned", report.Scanned),
		zap.Int("with_flyer", report.WithFlyer),
		zap.Int("cleaned", report.Cleaned),
		zap.Int("failed", len(report.Failed)),
	)
	return report, nil
}

func (s *CleanupService) cleanRecord(ctx context.Context, event model.Event) *RecordFailure {
	ctx, cancel := context.WithTimeout(ctx, s.recordTimeout)
	defer cancel()

	fail := func(stage string, err error) *RecordFailure {
		logger.Error(ctx, "failed to delete flyer for event",
			zap.String("event_id", event.ID),
			zap.String("stage", stage),
			zap.Error(err),
		)
		return &RecordFailure{EventID: event.ID, Stage: stage, Error: err.Error()}
	}

	file, err := naming.FlyerFileFromURL(*event.FlyerURL)
	if err != nil {
		return fail(StageParseURL, err)
	}
	key := naming.FlyerObjectKey(naming.FlyerPrefix, file)
	if err := s.storage.DeleteObject(ctx, s.bucket, key); err != nil {
		return fail(StageDeleteObject, err)
	}
	if err := s.repo.ClearFlyerURL(ctx, event.ID); err != nil {
		return fail(StageClearURL, err)
	}
	logger.Info(ctx, "deleted flyer for event", zap.String("event_id", event.ID), zap.String("object", key))
	return nil
}
