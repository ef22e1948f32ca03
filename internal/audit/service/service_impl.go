package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/leaguetracker/internal/audit/domain"
	"github.com/smallbiznis/leaguetracker/internal/audit/masking"
	"github.com/smallbiznis/leaguetracker/internal/clock"
	obscontext "github.com/smallbiznis/leaguetracker/internal/observability/context"
	"github.com/smallbiznis/leaguetracker/pkg/db/pagination"
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
	Clock clock.Clock `optional:"true"`
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	c := p.Clock
	if c == nil {
		c = clock.NewSystemClock()
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: c,
		repo:  p.Repo,
	}
}

func (s *Service) Record(ctx context.Context, tx *gorm.DB, entry auditdomain.Entry) error {
	action := strings.TrimSpace(entry.Action)
	if action == "" {
		return auditdomain.ErrInvalidAction
	}
	targetType := strings.TrimSpace(entry.TargetType)
	if targetType == "" {
		targetType = "unknown"
	}

	guildID := strings.TrimSpace(entry.GuildID)
	if guildID == "" {
		guildID = obscontext.GuildIDFromContext(ctx)
	}
	actorType, actorID := s.resolveActor(ctx, entry.ActorType, entry.ActorID)
	ipAddress, userAgent := obscontext.ClientFromContext(ctx)

	payload := masking.MaskMetadata(entry.Metadata)
	if payload == nil {
		payload = map[string]any{}
	}
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		payload["request_id"] = requestID
	}
	if messageID := obscontext.MessageIDFromContext(ctx); messageID != "" {
		payload["message_id"] = messageID
	}

	log := auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		GuildID:    optional(guildID),
		ActorType:  actorType,
		ActorID:    optional(actorID),
		Action:     action,
		TargetType: targetType,
		TargetID:   optional(entry.TargetID),
		IPAddress:  optional(ipAddress),
		UserAgent:  optional(userAgent),
		CreatedAt:  s.clock.Now(),
	}
	if len(payload) > 0 {
		log.Metadata = datatypes.JSONMap(payload)
	}

	db := tx
	if db == nil {
		db = s.db
	}
	if err := s.repo.Insert(ctx, db, &log); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	guildID := strings.TrimSpace(req.GuildID)
	if guildID == "" {
		guildID = obscontext.GuildIDFromContext(ctx)
	}
	if guildID == "" {
		return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidGuild
	}
	if req.StartAt != nil && req.EndAt != nil && req.StartAt.After(*req.EndAt) {
		return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidTimeRange
	}

	items, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		GuildID:    guildID,
		Action:     req.Action,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		ActorType:  req.ActorType,
		StartAt:    req.StartAt,
		EndAt:      req.EndAt,
		Page:       req.Pagination,
	})
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}

	items, pageInfo := pagination.BuildCursorPageInfo(items, req.Pagination.Size(), func(item *auditdomain.AuditLog) pagination.Cursor {
		return pagination.Cursor{
			ID:        strconv.FormatInt(item.ID.Int64(), 10),
			CreatedAt: item.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
	})

	logs := make([]auditdomain.AuditLog, 0, len(items))
	for _, item := range items {
		if item != nil {
			logs = append(logs, *item)
		}
	}
	return auditdomain.ListAuditLogResponse{PageInfo: pageInfo, AuditLogs: logs}, nil
}

func (s *Service) resolveActor(ctx context.Context, actorType auditdomain.ActorType, actorID string) (string, string) {
	kind := strings.TrimSpace(string(actorType))
	id := strings.TrimSpace(actorID)
	if kind == "" {
		if ctxType, ctxID := obscontext.ActorFromContext(ctx); ctxType != "" {
			kind = ctxType
			if id == "" {
				id = ctxID
			}
		}
	}
	if kind == "" {
		kind = string(auditdomain.ActorTypeSystem)
	}
	return kind, id
}

func optional(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
