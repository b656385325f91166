package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/smallbiznis/botledger/internal/config"
	"github.com/smallbiznis/botledger/internal/providers"
	"github.com/smallbiznis/botledger/internal/reengagement/domain"
	schedulerdomain "github.com/smallbiznis/botledger/internal/scheduler/domain"
	"github.com/smallbiznis/botledger/internal/taskqueue"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log          *zap.Logger
	Cfg          config.Config
	SchedulerSvc schedulerdomain.Service
	Notifier     providers.Notifier
}

type Service struct {
	log          *zap.Logger
	delay        string
	schedulerSvc schedulerdomain.Service
	notifier     providers.Notifier
}

func NewService(p Params) domain.Service {
	delay := p.Cfg.Scheduler.ReengagementDelay
	if delay == "" {
		delay = "1d"
	}
	return &Service{
		log:          p.Log.Named("reengagement.service"),
		delay:        delay,
		schedulerSvc: p.SchedulerSvc,
		notifier:     p.Notifier,
	}
}

func (s *Service) OnContactTagged(ctx context.Context, ev domain.ContactEvent) (*schedulerdomain.ScheduleResult, error) {
	if err := validate(ev); err != nil {
		return nil, err
	}
	if !strings.EqualFold(strings.TrimSpace(ev.Tag), domain.TagNoShow) {
		return nil, nil
	}

	if _, err := s.schedulerSvc.CancelSchedule(ctx, cancelRequest(ev)); err != nil {
		s.log.Warn("previous follow up not cancelled", zap.String("contact_id", ev.ContactID), zap.Error(err))
	}

	res, err := s.schedulerSvc.ScheduleTask(ctx, schedulerdomain.ScheduleTaskRequest{
		TaskID: domain.TaskSend,
		Delay:  schedulerdomain.Delay{Duration: s.delay},
		Payload: map[string]any{
			"contact_id":   ev.ContactID,
			"provider":     ev.Provider,
			"email":        ev.Email,
			"name":         ev.Name,
			"situation_id": ev.SituationID,
		},
		Metadata: schedulerdomain.ScheduleMetadata{
			ContactID:   ev.ContactID,
			Provider:    ev.Provider,
			TriggerType: domain.TagNoShow,
			SituationID: ev.SituationID,
		},
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *Service) OnContactReplied(ctx context.Context, ev domain.ContactEvent) (bool, error) {
	if err := validate(ev); err != nil {
		return false, err
	}
	return s.schedulerSvc.CancelSchedule(ctx, cancelRequest(ev))
}

// HandleSend is the task body for TaskSend. Cancelled schedules are skipped.
func (s *Service) HandleSend(ctx context.Context, d taskqueue.Delivery) error {
	var payload domain.SendPayload
	if err := json.Unmarshal(d.Payload, &payload); err != nil {
		return fmt.Errorf("decode %s payload: %w", domain.TaskSend, err)
	}
	log := s.log.With(
		zap.String("schedule_id", payload.ScheduleID),
		zap.String("contact_id", payload.ContactID),
	)
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.schedulerSvc.IsScheduleCancelled(ctx, payload.ScheduleID) {
		log.Info("follow up cancelled; skipping")
		return taskqueue.ErrSkipped
	}

	err := s.notifier.Notify(ctx, providers.Notification{
		ContactID: payload.ContactID,
		Email:     payload.Email,
		Name:      payload.Name,
		Template:  domain.Template,
		Summary:   fmt.Sprintf("Re-engaging no-show contact %s (%s)", payload.ContactID, payload.Provider),
		Data:      map[string]any{"situation_id": payload.SituationID},
	})
	if err != nil {
		return err
	}
	log.Info("follow up sent")
	return nil
}

func validate(ev domain.ContactEvent) error {
	if strings.TrimSpace(ev.ContactID) == "" || strings.TrimSpace(ev.Provider) == "" {
		return domain.ErrInvalidContact
	}
	return nil
}

func cancelRequest(ev domain.ContactEvent) schedulerdomain.CancelRequest {
	return schedulerdomain.CancelRequest{
		ContactID:   ev.ContactID,
		Provider:    ev.Provider,
		TriggerType: domain.TagNoShow,
	}
}
