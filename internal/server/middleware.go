package server

import (
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	obscontext "github.com/smallbiznis/leaguetracker/internal/observability/context"
	"github.com/smallbiznis/leaguetracker/internal/observability/logger"
	"go.uber.org/zap"
)

const (
	contextUserIDKey  = "user_id"
	contextGuildIDKey = "guild_id"

	actorTypeUser = "user"

	rateLimitReasonUser = "user-rate"
)

// BearerAuth resolves the caller from a HS256 bearer token. The user id is
// the token's sub claim.
func (s *Server) BearerAuth() gin.HandlerFunc {
	secret := []byte(s.cfg.AuthJWTSecret)
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)

	return func(c *gin.Context) {
		if len(secret) == 0 {
			AbortWithError(c, ErrServiceUnavailable)
			return
		}

		raw, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		var claims jwt.RegisteredClaims
		if _, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
			return secret, nil
		}); err != nil {
			logger.FromContext(c.Request.Context()).Debug("rejected bearer token", zap.Error(err))
			AbortWithError(c, ErrUnauthorized)
			return
		}

		userID := strings.TrimSpace(claims.Subject)
		if userID == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextUserIDKey, userID)
		ctx := obscontext.WithActor(c.Request.Context(), actorTypeUser, userID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// GuildContext copies the :guildID path parameter onto the request context.
func (s *Server) GuildContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		guildID := strings.TrimSpace(c.Param("guildID"))
		if guildID == "" {
			AbortWithError(c, newValidationError("guild_id", "invalid_guild_id", "guild id is required"))
			return
		}
		c.Set(contextGuildIDKey, guildID)
		c.Request = c.Request.WithContext(obscontext.WithGuildID(c.Request.Context(), guildID))
		c.Next()
	}
}

// SubmissionRateLimit applies the per-user token bucket to registration submissions.
func (s *Server) SubmissionRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.submissionLimiter == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		userID := c.GetString(contextUserIDKey)
		endpoint := normalizeRateLimitEndpoint(c)

		result, err := s.submissionLimiter.Allow(ctx, userID)
		if err != nil {
			logger.FromContext(ctx).Warn("submission rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !result.Allowed {
			logger.FromContext(ctx).Warn("submission rate limit exceeded",
				zap.String("reason", rateLimitReasonUser),
				zap.String("endpoint", endpoint),
			)
			s.obsMetrics.RecordRateLimitDenied(ctx, endpoint, rateLimitReasonUser)

			retryAfter := int(math.Ceil(result.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.Header("X-Rate-Limited-Reason", rateLimitReasonUser)
			AbortWithError(c, ErrRateLimited)
			return
		}

		s.obsMetrics.RecordRateLimitAllowed(ctx, endpoint)
		c.Next()
	}
}

func actorID(c *gin.Context) (string, error) {
	userID := strings.TrimSpace(c.GetString(contextUserIDKey))
	if userID == "" {
		return "", ErrUnauthorized
	}
	return userID, nil
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
