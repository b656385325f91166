package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/botledger/internal/audit/domain"
	"github.com/smallbiznis/botledger/internal/audit/masking"
	"github.com/smallbiznis/botledger/internal/clock"
	obscontext "github.com/smallbiznis/botledger/internal/observability/context"
	"github.com/smallbiznis/botledger/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Record(ctx context.Context, entry domain.Entry) error {
	action := strings.TrimSpace(entry.Action)
	if action == "" {
		return domain.ErrInvalidAction
	}
	if entry.OrgID == 0 {
		return domain.ErrInvalidOrganization
	}

	targetType := strings.TrimSpace(entry.TargetType)
	if targetType == "" {
		targetType = "unknown"
	}
	actorType, actorID := resolveActor(ctx, entry)

	payload := masking.MaskJSON(entry.Metadata)
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		if payload == nil {
			payload = map[string]any{}
		}
		payload["request_id"] = requestID
	}

	row := domain.AuditLog{
		ID:         s.genID.Generate(),
		OrgID:      entry.OrgID,
		ActorType:  actorType,
		ActorID:    optional(actorID),
		Action:     action,
		TargetType: targetType,
		TargetID:   optional(entry.TargetID),
		CreatedAt:  s.clock.Now().UTC(),
	}
	if payload != nil {
		row.Metadata = datatypes.JSONMap(payload)
	}
	client := domain.ClientFromContext(ctx)
	row.IPAddress = optional(client.IPAddress)
	row.UserAgent = optional(client.UserAgent)

	if err := s.repo.Insert(ctx, s.db, &row); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	if req.OrgID == 0 {
		return domain.ListResponse{}, domain.ErrInvalidOrganization
	}
	page := pagination.Pagination{PageToken: req.PageToken, PageSize: req.PageSize}
	cursor, err := pagination.DecodeCursor(page.PageToken)
	if err != nil {
		return domain.ListResponse{}, err
	}

	limit := page.Limit()
	rows, err := s.repo.List(ctx, s.db, domain.ListFilter{
		OrgID:      req.OrgID,
		Action:     req.Action,
		TargetType: req.TargetType,
		Cursor:     cursor,
		Limit:      limit + 1,
	})
	if err != nil {
		return domain.ListResponse{}, err
	}

	logs, info, err := pagination.Page(rows, limit, func(l domain.AuditLog) pagination.Cursor {
		return pagination.Cursor{ID: int64(l.ID), CreatedAt: l.CreatedAt}
	})
	if err != nil {
		return domain.ListResponse{}, err
	}
	if logs == nil {
		logs = []domain.AuditLog{}
	}
	return domain.ListResponse{AuditLogs: logs, PageInfo: info}, nil
}

func resolveActor(ctx context.Context, entry domain.Entry) (string, string) {
	actorType := strings.TrimSpace(entry.ActorType)
	actorID := strings.TrimSpace(entry.ActorID)
	if actorType != "" {
		return actorType, actorID
	}
	if actor, ok := domain.ActorFromContext(ctx); ok {
		return actor.Type, actor.ID
	}
	return domain.ActorSystem, actorID
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
