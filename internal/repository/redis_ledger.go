package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/abdulalimswe/FairMark/internal/models"
)

type redisLedgerStore struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewRedisLedgerStore keeps one redis set per identity under prefix,
// with members formatted as "attempt:hash".
func NewRedisLedgerStore(client *redis.Client, prefix string, logger zerolog.Logger) LedgerStore {
	if prefix == "" {
		prefix = "fairmark:ledger"
	}
	return &redisLedgerStore{
		client: client,
		prefix: strings.TrimSuffix(prefix, ":"),
		logger: logger,
	}
}

func (s *redisLedgerStore) Name() string {
	return "redis"
}

func (s *redisLedgerStore) key(id models.SubmissionIdentity) string {
	return s.prefix + ":" + id.String()
}

func (s *redisLedgerStore) Append(ctx context.Context, id models.SubmissionIdentity, fp models.AttemptFingerprint) error {
	return s.client.SAdd(ctx, s.key(id), fp.String()).Err()
}

func (s *redisLedgerStore) LoadAll(ctx context.Context) (map[models.SubmissionIdentity][]models.AttemptFingerprint, error) {
	out := make(map[models.SubmissionIdentity][]models.AttemptFingerprint)

	iter := s.client.Scan(ctx, 0, s.prefix+":*", 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		id, err := models.ParseSubmissionIdentity(strings.TrimPrefix(key, s.prefix+":"))
		if err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("Skipping unrecognised ledger key")
			continue
		}

		members, err := s.client.SMembers(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", key, err)
		}

		for _, m := range members {
			fp, err := models.ParseAttemptFingerprint(m)
			if err != nil {
				s.logger.Warn().Err(err).Str("key", key).Msg("Skipping malformed ledger member")
				continue
			}
			out[id] = append(out[id], fp)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan ledger keys: %w", err)
	}

	return out, nil
}
