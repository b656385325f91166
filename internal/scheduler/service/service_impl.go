package service

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/botledger/internal/clock"
	"github.com/smallbiznis/botledger/internal/config"
	"github.com/smallbiznis/botledger/internal/observability/metrics"
	"github.com/smallbiznis/botledger/internal/scheduler/domain"
	"github.com/smallbiznis/botledger/internal/taskqueue"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	defaultScheduleTTL = 7 * 24 * time.Hour
	// runGrace keeps a far-future record readable for a while after it runs.
	runGrace = 24 * time.Hour
)

var delayPattern = regexp.MustCompile(`^(\d+)([smhd])$`)

type Params struct {
	fx.In

	Log      *zap.Logger
	Clock    clock.Clock
	Cfg      config.Config
	Repo     domain.Repository
	Provider taskqueue.Provider
	Metrics  *metrics.Metrics `optional:"true"`
}

type Service struct {
	log      *zap.Logger
	clock    clock.Clock
	repo     domain.Repository
	provider taskqueue.Provider
	ttl      time.Duration
	metrics  *metrics.Metrics
}

func NewService(p Params) domain.Service {
	ttl := p.Cfg.Scheduler.ScheduleTTL
	if ttl <= 0 {
		ttl = defaultScheduleTTL
	}
	return &Service{
		log:      p.Log.Named("scheduler.service"),
		clock:    p.Clock,
		repo:     p.Repo,
		provider: p.Provider,
		ttl:      ttl,
		metrics:  p.Metrics,
	}
}

func (s *Service) ScheduleTask(ctx context.Context, req domain.ScheduleTaskRequest) (domain.ScheduleResult, error) {
	taskID := strings.TrimSpace(req.TaskID)
	if taskID == "" {
		return domain.ScheduleResult{}, domain.ErrInvalidTaskID
	}
	now := s.clock.Now()
	runAt, err := ResolveDelay(now, req.Delay)
	if err != nil {
		return domain.ScheduleResult{}, err
	}

	scheduleID := ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
	log := s.log.With(
		zap.String("schedule_id", scheduleID),
		zap.String("task_id", taskID),
		zap.String("contact_id", req.Metadata.ContactID),
		zap.String("trigger_type", req.Metadata.TriggerType),
	)

	payload := make(map[string]any, len(req.Payload)+1)
	for k, v := range req.Payload {
		payload[k] = v
	}
	payload[domain.PayloadScheduleID] = scheduleID
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.ScheduleResult{}, fmt.Errorf("encode task payload: %w", err)
	}

	handle, err := s.provider.Trigger(ctx, taskID, body, runAt)
	if err != nil {
		log.Error("task provider trigger failed", zap.String("provider", s.provider.Name()), zap.Error(err))
		return domain.ScheduleResult{}, fmt.Errorf("trigger task %s: %w", taskID, err)
	}

	info := domain.ScheduleInfo{
		ScheduleID:  scheduleID,
		TaskID:      taskID,
		Handle:      string(handle),
		Provider:    s.provider.Name(),
		ScheduledAt: runAt,
		Metadata:    req.Metadata,
		CreatedAt:   now,
	}
	ttl := s.recordTTL(now, runAt)
	if err := s.repo.Save(ctx, info, ttl); err != nil {
		// The task is already enqueued; without a record it will see itself cancelled.
		log.Error("schedule record save failed", zap.Error(err))
		return domain.ScheduleResult{}, fmt.Errorf("save schedule %s: %w", scheduleID, err)
	}
	if req.Metadata.Indexed() {
		if err := s.repo.SaveIndex(ctx, req.Metadata, scheduleID, ttl); err != nil {
			log.Warn("schedule index save failed", zap.Error(err))
		}
	}

	s.metrics.RecordScheduleCreated(ctx, req.Metadata.Provider, req.Metadata.TriggerType)
	log.Info("task scheduled", zap.Time("scheduled_at", runAt), zap.String("handle", string(handle)))
	return info.Result(), nil
}

func (s *Service) CancelSchedule(ctx context.Context, req domain.CancelRequest) (bool, error) {
	scheduleID := strings.TrimSpace(req.ScheduleID)
	if scheduleID == "" {
		meta := domain.ScheduleMetadata{ContactID: req.ContactID, Provider: req.Provider, TriggerType: req.TriggerType}
		if !meta.Indexed() {
			return false, nil
		}
		var err error
		scheduleID, err = s.repo.TakeIndex(ctx, meta)
		if err != nil {
			return false, fmt.Errorf("resolve schedule index: %w", err)
		}
		if scheduleID == "" {
			return false, nil
		}
	}

	info, err := s.repo.Find(ctx, scheduleID)
	if err != nil {
		return false, fmt.Errorf("load schedule %s: %w", scheduleID, err)
	}
	if info == nil {
		return false, nil
	}

	now := s.clock.Now()
	info.Cancelled = true
	info.CancelledAt = &now
	if err := s.repo.Save(ctx, *info, s.ttl); err != nil {
		return false, fmt.Errorf("save schedule %s: %w", scheduleID, err)
	}

	s.metrics.RecordScheduleCancelled(ctx, info.Metadata.Provider, 1)
	s.log.Info("schedule cancelled",
		zap.String("schedule_id", scheduleID),
		zap.String("task_id", info.TaskID),
	)
	return true, nil
}

// ListSchedules returns pending schedules ordered by run time. Without a
// contact id it scans every schedule key. Records are re-checked against
// contactID and provider on both paths: the index lookup is a key glob, and
// the full scan has no index to narrow by provider.
func (s *Service) ListSchedules(ctx context.Context, contactID, provider string) ([]domain.ScheduleResult, error) {
	contactID = strings.TrimSpace(contactID)
	provider = strings.TrimSpace(provider)

	var (
		ids []string
		err error
	)
	if contactID != "" {
		ids, err = s.repo.IndexedIDs(ctx, contactID, provider)
	} else {
		ids, err = s.repo.ScheduleIDs(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}

	results := make([]domain.ScheduleResult, 0, len(ids))
	for _, id := range ids {
		info, err := s.repo.Find(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load schedule %s: %w", id, err)
		}
		if info == nil || info.Cancelled {
			continue
		}
		if contactID != "" && info.Metadata.ContactID != contactID {
			continue
		}
		if provider != "" && info.Metadata.Provider != provider {
			continue
		}
		results = append(results, info.Result())
	}
	slices.SortFunc(results, func(a, b domain.ScheduleResult) int {
		if c := a.ScheduledAt.Compare(b.ScheduledAt); c != 0 {
			return c
		}
		return strings.Compare(a.ScheduleID, b.ScheduleID)
	})
	return results, nil
}

// IsScheduleCancelled reports true for cancelled schedules, missing records
// and unreadable state.
func (s *Service) IsScheduleCancelled(ctx context.Context, scheduleID string) bool {
	scheduleID = strings.TrimSpace(scheduleID)
	if scheduleID == "" {
		return true
	}
	info, err := s.repo.Find(ctx, scheduleID)
	if err != nil {
		s.log.Warn("schedule state unreadable, treating as cancelled",
			zap.String("schedule_id", scheduleID),
			zap.Error(err),
		)
		return true
	}
	if info == nil {
		return true
	}
	return info.Cancelled
}

// recordTTL is the configured TTL, stretched so a record outlives its run time.
func (s *Service) recordTTL(now, runAt time.Time) time.Duration {
	return max(s.ttl, runAt.Sub(now)+runGrace)
}

// ResolveDelay turns a Delay into an absolute run time.
func ResolveDelay(now time.Time, delay domain.Delay) (time.Time, error) {
	if delay.At != nil {
		return delay.At.UTC(), nil
	}
	d, err := ParseDelay(delay.Duration)
	if err != nil {
		return time.Time{}, err
	}
	return now.Add(d).UTC(), nil
}

// ParseDelay parses "<n><s|m|h|d>".
func ParseDelay(raw string) (time.Duration, error) {
	m := delayPattern.FindStringSubmatch(raw)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidDelay, raw)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidDelay, raw)
	}
	var unit time.Duration
	switch m[2] {
	case "s":
		unit = time.Second
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	}
	if n > int64((1<<63-1)/unit) {
		return 0, fmt.Errorf("%w: %q overflows", domain.ErrInvalidDelay, raw)
	}
	return time.Duration(n) * unit, nil
}
