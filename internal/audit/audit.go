// Package audit is the append-only destination for abuse signals: anomaly
// flags, bans and appeal decisions. The economy core writes here and never
// reads back.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/orangearcade/backend/internal/models"
	"github.com/orangearcade/backend/internal/store"
)

const DefaultChannel = "abuse_audit"

// Sink accepts audit records.
type Sink interface {
	Append(ctx context.Context, rec models.AuditRecord) error
}

// StoreSink appends to the abuse_audit table.
type StoreSink struct {
	store store.Store
	now   func() time.Time
}

func NewStoreSink(st store.Store) *StoreSink {
	return &StoreSink{store: st, now: time.Now}
}

func (s *StoreSink) Append(ctx context.Context, rec models.AuditRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	return s.store.WithTx(ctx, func(tx store.Tx) error {
		return tx.AppendAudit(ctx, &rec)
	})
}

// RedisSink publishes each record as JSON for out-of-band tooling.
type RedisSink struct {
	rdb     *redis.Client
	channel string
}

func NewRedisSink(rdb *redis.Client, channel string) *RedisSink {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisSink{rdb: rdb, channel: channel}
}

func (s *RedisSink) Append(ctx context.Context, rec models.AuditRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	return s.rdb.Publish(ctx, s.channel, b).Err()
}

// Multi fans a record out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Append(ctx context.Context, rec models.AuditRecord) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Append(ctx, rec); err != nil {
			log.WithError(err).WithField("kind", rec.Kind).Warn("[AUDIT] sink append failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Details encodes a details map for an audit record.
func Details(m map[string]any) []byte {
	if len(m) == 0 {
		return []byte("{}")
	}
	b, err := json.Marshal(m)
	if err != nil {
		return []byte("{}")
	}
	return b
}
