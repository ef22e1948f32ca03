package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/leaguetracker/internal/trackerurl/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo domain.Repository
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("trackerurl.service"),
		repo: p.Repo,
	}
}

func (s *Service) Validate(ctx context.Context, raw string, opts domain.ValidateOptions) (domain.ParsedURL, error) {
	parsed, err := domain.Parse(raw)
	if err != nil {
		return domain.ParsedURL{}, err
	}
	if opts.SkipUniqueness {
		return parsed, nil
	}

	var exclude []snowflake.ID
	if opts.ExcludeID != 0 {
		exclude = []snowflake.ID{opts.ExcludeID}
	}
	unique, err := s.CheckURLsUnique(ctx, []string{parsed.URL}, exclude)
	if err != nil {
		return domain.ParsedURL{}, err
	}
	if !unique[parsed.URL] {
		return domain.ParsedURL{}, domain.NewValidationError(domain.ReasonNotUnique, raw,
			"this tracker is already registered or pending approval")
	}
	return parsed, nil
}

// CheckURLsUnique reports, per URL, whether no live owner outside
// excludeIDs holds it.
func (s *Service) CheckURLsUnique(ctx context.Context, urls []string, excludeIDs []snowflake.ID) (map[string]bool, error) {
	result := make(map[string]bool, len(urls))
	if len(urls) == 0 {
		return result, nil
	}

	distinct := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, seen := result[u]; seen {
			continue
		}
		result[u] = true
		distinct = append(distinct, u)
	}

	owners, err := s.repo.FindOwners(ctx, s.db, distinct)
	if err != nil {
		s.log.Error("failed to check url uniqueness", zap.Int("url_count", len(distinct)), zap.Error(err))
		return nil, fmt.Errorf("check url uniqueness: %w", err)
	}

	excluded := make(map[snowflake.ID]struct{}, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = struct{}{}
	}
	for _, owner := range owners {
		if _, skip := excluded[owner.OwnerID]; skip {
			continue
		}
		result[owner.URL] = false
	}
	return result, nil
}
