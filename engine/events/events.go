// Package events defines the NATS subjects and payloads the engine
// publishes and consumes.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/combolab/combo-engine/engine/domain"
	"github.com/combolab/combo-engine/pkg/natsutil"
)

// Subjects.
const (
	SubjectRankingsUpdated   = "combo.rankings.updated"
	SubjectPopularityRefresh = "combo.popularity.refresh"
)

// RankingsUpdated is published after every enrichment batch.
type RankingsUpdated struct {
	BatchID  string          `json:"batchId"`
	AppID    string          `json:"appId"`
	Locale   string          `json:"locale"`
	Platform domain.Platform `json:"platform"`
	Combos   int             `json:"combos"`
	Unknown  int             `json:"unknown"`
	Partial  bool            `json:"partial"`
	At       time.Time       `json:"at"`
}

// PopularityRefresh asks the refresher to run. An empty Reason is fine.
type PopularityRefresh struct {
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// Publisher publishes engine events over NATS.
type Publisher struct {
	nc *nats.Conn
}

// NewPublisher wraps a connection.
func NewPublisher(nc *nats.Conn) *Publisher { return &Publisher{nc: nc} }

// RankingsUpdated publishes ev.
func (p *Publisher) RankingsUpdated(ctx context.Context, ev RankingsUpdated) error {
	return natsutil.Publish(ctx, p.nc, SubjectRankingsUpdated, ev)
}

// RequestPopularityRefresh publishes a refresh trigger.
func (p *Publisher) RequestPopularityRefresh(ctx context.Context, reason string) error {
	return natsutil.Publish(ctx, p.nc, SubjectPopularityRefresh, PopularityRefresh{Reason: reason, At: time.Now().UTC()})
}

// OnPopularityRefresh subscribes handler to refresh triggers.
func OnPopularityRefresh(nc *nats.Conn, logger *slog.Logger, handler func(context.Context, PopularityRefresh)) (*nats.Subscription, error) {
	return natsutil.Subscribe(nc, SubjectPopularityRefresh, logger, handler)
}
