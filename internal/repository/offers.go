package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shenikar/incident_dispatch/internal/service"
)

const (
	offerDeadlinesKey = "offers:deadlines"
	// deliveredTTL - история доставки живет дольше любого окна предложения
	deliveredTTL = 24 * time.Hour
)

// OfferStore хранит сроки предложений в sorted set (score - deadline в мс)
// и историю доставки в set на каждый инцидент
type OfferStore struct {
	redisClient *redis.Client
}

func NewOfferStore(redisClient *redis.Client) service.OfferStore {
	return &OfferStore{redisClient: redisClient}
}

// Schedule запоминает срок предложения
func (s *OfferStore) Schedule(ctx context.Context, incidentID uuid.UUID, deadline time.Time) error {
	err := s.redisClient.ZAdd(ctx, offerDeadlinesKey, redis.Z{
		Score:  float64(deadline.UnixMilli()),
		Member: incidentID.String(),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to schedule offer deadline: %w", err)
	}
	return nil
}

// Deadline возвращает срок предложения, ok=false если предложение уже снято
func (s *OfferStore) Deadline(ctx context.Context, incidentID uuid.UUID) (time.Time, bool, error) {
	score, err := s.redisClient.ZScore(ctx, offerDeadlinesKey, incidentID.String()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to get offer deadline: %w", err)
	}
	return time.UnixMilli(int64(score)), true, nil
}

// Clear снимает предложение
func (s *OfferStore) Clear(ctx context.Context, incidentID uuid.UUID) error {
	if err := s.redisClient.ZRem(ctx, offerDeadlinesKey, incidentID.String()).Err(); err != nil {
		return fmt.Errorf("failed to clear offer deadline: %w", err)
	}
	return nil
}

// Due возвращает предложения со сроком не позже now
func (s *OfferStore) Due(ctx context.Context, now time.Time, limit int64) ([]uuid.UUID, error) {
	members, err := s.redisClient.ZRangeByScore(ctx, offerDeadlinesKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list due offers: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			// мусор в наборе не должен блокировать остальные сроки
			if err := s.redisClient.ZRem(ctx, offerDeadlinesKey, m).Err(); err != nil {
				return nil, fmt.Errorf("failed to drop malformed offer deadline %q: %w", m, err)
			}
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// MarkDelivered атомарно отмечает доставку предложения получателю
func (s *OfferStore) MarkDelivered(ctx context.Context, incidentID uuid.UUID, recipient string) (bool, error) {
	key := fmt.Sprintf("offers:delivered:%s", incidentID.String())
	pipe := s.redisClient.TxPipeline()
	added := pipe.SAdd(ctx, key, recipient)
	pipe.Expire(ctx, key, deliveredTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to mark offer delivered: %w", err)
	}
	return added.Val() == 1, nil
}
