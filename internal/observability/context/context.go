package context

import (
	"context"
	"strings"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	guildIDKey
	actorKey
	messageIDKey
	clientKey
)

type client struct {
	ip        string
	userAgent string
}

type actor struct {
	kind string
	id   string
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, strings.TrimSpace(requestID))
}

func RequestIDFromContext(ctx context.Context) string {
	value, _ := ctx.Value(requestIDKey).(string)
	return value
}

func WithGuildID(ctx context.Context, guildID string) context.Context {
	return context.WithValue(ctx, guildIDKey, strings.TrimSpace(guildID))
}

func GuildIDFromContext(ctx context.Context) string {
	value, _ := ctx.Value(guildIDKey).(string)
	return value
}

func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	return context.WithValue(ctx, actorKey, actor{
		kind: strings.TrimSpace(actorType),
		id:   strings.TrimSpace(actorID),
	})
}

// ActorFromContext returns the actor type and id, empty when unset.
func ActorFromContext(ctx context.Context) (string, string) {
	value, ok := ctx.Value(actorKey).(actor)
	if !ok {
		return "", ""
	}
	return value.kind, value.id
}

// WithMessageID tags queue-driven work with the delivered message id.
func WithMessageID(ctx context.Context, messageID string) context.Context {
	return context.WithValue(ctx, messageIDKey, strings.TrimSpace(messageID))
}

func MessageIDFromContext(ctx context.Context) string {
	value, _ := ctx.Value(messageIDKey).(string)
	return value
}

// WithClient records the caller's network identity for audit entries.
func WithClient(ctx context.Context, ip, userAgent string) context.Context {
	return context.WithValue(ctx, clientKey, client{
		ip:        strings.TrimSpace(ip),
		userAgent: strings.TrimSpace(userAgent),
	})
}

func ClientFromContext(ctx context.Context) (string, string) {
	value, ok := ctx.Value(clientKey).(client)
	if !ok {
		return "", ""
	}
	return value.ip, value.userAgent
}
