package notification

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/smallbiznis/leaguetracker/internal/audit/masking"
	"github.com/smallbiznis/leaguetracker/internal/config"
	obsmetrics "github.com/smallbiznis/leaguetracker/internal/observability/metrics"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type DiscordConfig struct {
	WebhookURL    string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
}

// DiscordSender posts to a Discord webhook. Calls are paced by a local
// token bucket and short-circuited while the webhook keeps failing.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[struct{}]
	log        *zap.Logger
	metrics    *obsmetrics.PipelineMetrics
}

type webhookMessage struct {
	Content         string          `json:"content"`
	Embeds          []webhookEmbed  `json:"embeds,omitempty"`
	AllowedMentions allowedMentions `json:"allowed_mentions"`
}

type webhookEmbed struct {
	Title  string         `json:"title"`
	URL    string         `json:"url,omitempty"`
	Fields []webhookField `json:"fields,omitempty"`
}

type webhookField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type allowedMentions struct {
	Parse []string `json:"parse"`
}

// StatusError reports a non-2xx webhook response.
type StatusError struct {
	StatusCode int
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("discord webhook returned %d", e.StatusCode)
}

func NewDiscordSender(cfg DiscordConfig, holder *config.PipelineConfigHolder, log *zap.Logger, metrics *obsmetrics.PipelineMetrics) *DiscordSender {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("notification.discord")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	limit := rate.Limit(cfg.RatePerSecond)
	if cfg.RatePerSecond <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "discord-webhook",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(holder.Get().NotificationBreakerFailures)
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellation says nothing about webhook health.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("notification breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	log.Info("discord notifications enabled", zap.String("webhook", masking.MaskURL(cfg.WebhookURL)))

	return &DiscordSender{
		webhookURL: cfg.WebhookURL,
		client:     &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, burst),
		breaker:    breaker,
		log:        log,
		metrics:    metrics,
	}
}

func (s *DiscordSender) SendRegistrationNotification(ctx context.Context, registrationID, guildID, userID, url string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		s.metrics.IncNotification(obsmetrics.NotificationOutcomeFailed)
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}

	body, err := json.Marshal(webhookMessage{
		Content: fmt.Sprintf("New tracker registration from <@%s> is waiting for review.", userID),
		Embeds: []webhookEmbed{{
			Title: "Tracker registration",
			URL:   url,
			Fields: []webhookField{
				{Name: "Registration", Value: registrationID, Inline: true},
				{Name: "Guild", Value: guildID, Inline: true},
			},
		}},
		AllowedMentions: allowedMentions{Parse: []string{}},
	})
	if err != nil {
		return err
	}

	_, err = s.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, s.post(ctx, body)
	})
	switch {
	case err == nil:
		s.metrics.IncNotification(obsmetrics.NotificationOutcomeSent)
		return nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		s.metrics.IncNotification(obsmetrics.NotificationOutcomeBreakerOpen)
		return fmt.Errorf("%w: %v", ErrBreakerOpen, err)
	default:
		s.metrics.IncNotification(obsmetrics.NotificationOutcomeFailed)
		s.log.Warn("registration notification failed",
			zap.String("registration_id", registrationID),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %w", ErrNotDelivered, err)
	}
}

func (s *DiscordSender) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	statusErr := &StatusError{StatusCode: resp.StatusCode}
	if seconds, err := strconv.ParseFloat(resp.Header.Get("Retry-After"), 64); err == nil && seconds > 0 {
		statusErr.RetryAfter = time.Duration(seconds * float64(time.Second))
	}
	return statusErr
}
