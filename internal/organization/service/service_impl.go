package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/botledger/internal/clock"
	"github.com/smallbiznis/botledger/internal/organization/domain"
	"github.com/smallbiznis/botledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxSlugAttempts = 5

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func NewService(p Params) domain.Service {
	return &service{
		db:    p.DB,
		log:   p.Log.Named("organization.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *service) Create(ctx context.Context, req domain.CreateOrganizationRequest) (*domain.OrganizationResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	base := slug.Make(name)
	if base == "" {
		return nil, domain.ErrInvalidName
	}

	now := s.clock.Now()
	org := domain.Organization{
		ID:        s.genID.Generate(),
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// Slugs can collide between concurrent signups; retry with an id suffix.
	candidate := base
	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		exists, err := s.repo.SlugExists(ctx, s.db, candidate)
		if err != nil {
			return nil, err
		}
		if !exists {
			org.Slug = candidate
			err = s.repo.Insert(ctx, s.db, &org)
			if err == nil {
				s.log.Info("organization created", zap.String("org_id", org.ID.String()), zap.String("slug", org.Slug))
				return toResponse(org), nil
			}
			if !db.IsDuplicateKeyErr(err) {
				return nil, err
			}
		}
		candidate = slug.Make(base + "-" + suffix(org.ID, attempt))
	}
	return nil, domain.ErrInvalidName
}

func (s *service) GetByID(ctx context.Context, id string) (*domain.OrganizationResponse, error) {
	orgID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	org, err := s.repo.FindByID(ctx, s.db, orgID)
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, domain.ErrOrganizationNotFound
	}
	return toResponse(*org), nil
}

func suffix(id snowflake.ID, attempt int) string {
	raw := id.Base36()
	size := 4 + attempt
	if size > len(raw) {
		size = len(raw)
	}
	return raw[len(raw)-size:]
}

func toResponse(org domain.Organization) *domain.OrganizationResponse {
	return &domain.OrganizationResponse{
		ID:        org.ID.String(),
		Name:      org.Name,
		Slug:      org.Slug,
		CreatedAt: org.CreatedAt,
	}
}
