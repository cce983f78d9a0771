// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package notifier

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/canonical/membership-service/internal/logging"
	"github.com/canonical/membership-service/internal/monitoring"
	"github.com/canonical/membership-service/internal/tracing"
	"github.com/canonical/membership-service/internal/types"
)

const (
	KindInvite         = "invite"
	KindAccountDeleted = "account_deleted"
)

var _ NotifierInterface = (*RedisNotifier)(nil)

// RedisNotifier appends events to a Redis stream. A mail worker consumes the
// stream, so delivery is at-least-once from the moment XADD succeeds.
type RedisNotifier struct {
	client  *redis.Client
	stream  string
	baseURL string

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

func (n *RedisNotifier) NotifyInvite(ctx context.Context, invite *types.Invite, organizationName string) error {
	ctx, span := n.tracer.Start(ctx, "notifier.RedisNotifier.NotifyInvite")
	defer span.End()

	return n.publish(ctx, KindInvite, inviteValues(invite, organizationName, n.baseURL))
}

func (n *RedisNotifier) NotifyAccountDeleted(ctx context.Context, userID, email string) error {
	ctx, span := n.tracer.Start(ctx, "notifier.RedisNotifier.NotifyAccountDeleted")
	defer span.End()

	return n.publish(ctx, KindAccountDeleted, map[string]any{
		"user_id": userID,
		"email":   email,
	})
}

func (n *RedisNotifier) publish(ctx context.Context, kind string, values map[string]any) error {
	values["kind"] = kind
	values["emitted_at"] = time.Now().UTC().Format(time.RFC3339)

	id, err := n.client.XAdd(ctx, &redis.XAddArgs{
		Stream: n.stream,
		Values: values,
	}).Result()
	if err != nil {
		n.monitor.SetDependencyAvailability(map[string]string{"component": "redis"}, 0)
		return fmt.Errorf("failed to publish %s notification: %w", kind, err)
	}

	n.monitor.SetDependencyAvailability(map[string]string{"component": "redis"}, 1)
	n.logger.Debugf("published %s notification %s", kind, id)
	return nil
}

func (n *RedisNotifier) Close() error {
	return n.client.Close()
}

func inviteValues(invite *types.Invite, organizationName, baseURL string) map[string]any {
	return map[string]any{
		"code":              invite.Code,
		"organization_id":   invite.OrganizationID,
		"organization_name": organizationName,
		"email":             invite.Email,
		"role":              invite.Role.String(),
		"invited_by":        invite.InvitedBy,
		"link":              InviteLink(baseURL, invite.Code),
	}
}

// InviteLink builds the acceptance URL embedded in invite emails.
func InviteLink(baseURL, code string) string {
	return strings.TrimRight(baseURL, "/") + "/invites/" + url.PathEscape(code)
}

func NewRedisNotifier(redisURL, stream, baseURL string, tracer tracing.TracingInterface, monitor monitoring.MonitorInterface, logger logging.LoggerInterface) (*RedisNotifier, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	return NewRedisNotifierWithClient(redis.NewClient(opts), stream, baseURL, tracer, monitor, logger), nil
}

func NewRedisNotifierWithClient(client *redis.Client, stream, baseURL string, tracer tracing.TracingInterface, monitor monitoring.MonitorInterface, logger logging.LoggerInterface) *RedisNotifier {
	n := new(RedisNotifier)

	n.client = client
	n.stream = stream
	n.baseURL = baseURL

	n.tracer = tracer
	n.monitor = monitor
	n.logger = logger

	return n
}
