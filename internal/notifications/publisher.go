// Package notifications fans committed request events out to the audit trail and Redis channels.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/univ-portal-api/internal/models"
)

const defaultChannelPrefix = "portal"

// Publisher pushes request events onto Redis pub/sub channels.
type Publisher struct {
	rdb    *redis.Client
	prefix string
}

// NewPublisher creates a Publisher. A nil client turns publishing into a no-op.
func NewPublisher(rdb *redis.Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = defaultChannelPrefix
	}
	return &Publisher{rdb: rdb, prefix: prefix}
}

// UserChannel is the channel carrying events about requests submitted by userID.
func UserChannel(prefix, userID string) string {
	return fmt.Sprintf("%s:requests:user:%s", prefix, userID)
}

// StaffChannel is the channel carrying every request event for staff dashboards.
func StaffChannel(prefix string) string {
	return prefix + ":requests:staff"
}

// Publish sends evt to the owner's channel and the staff channel.
func (p *Publisher) Publish(ctx context.Context, evt models.RequestEvent) error {
	if p == nil || p.rdb == nil {
		return nil
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if evt.OwnerID != "" {
		if err := p.rdb.Publish(ctx, UserChannel(p.prefix, evt.OwnerID), payload).Err(); err != nil {
			return fmt.Errorf("publish user event: %w", err)
		}
	}
	if err := p.rdb.Publish(ctx, StaffChannel(p.prefix), payload).Err(); err != nil {
		return fmt.Errorf("publish staff event: %w", err)
	}
	return nil
}
