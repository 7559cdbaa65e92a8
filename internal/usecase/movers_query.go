package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"MoverPull/internal/domain/models"
	domrepo "MoverPull/internal/domain/repository"
	"MoverPull/internal/service/cache"
	"MoverPull/pkg/logger"
)

const moversCacheKey = "movers:latest:"

// MoversQueryUseCase serves the stored movers, newest first.
type MoversQueryUseCase struct {
	store    domrepo.MoverStore
	cache    cache.BytesCache
	cacheTTL time.Duration
	timeout  time.Duration
	log      *logger.Logger
}

type MoversQueryOption func(*MoversQueryUseCase)

// WithMoversCache caches each limit's response for ttl. Invalidate clears it.
func WithMoversCache(c cache.BytesCache, ttl time.Duration) MoversQueryOption {
	return func(uc *MoversQueryUseCase) {
		uc.cache = c
		uc.cacheTTL = ttl
	}
}

func WithMoversLogger(l *logger.Logger) MoversQueryOption {
	return func(uc *MoversQueryUseCase) { uc.log = l }
}

func NewMoversQueryUseCase(store domrepo.MoverStore, opts ...MoversQueryOption) *MoversQueryUseCase {
	uc := &MoversQueryUseCase{store: store, timeout: 5 * time.Second, log: logger.NewNop()}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

func (uc *MoversQueryUseCase) Latest(ctx context.Context, n int) ([]models.MoverItem, error) {
	if n <= 0 {
		n = 7
	}
	ctx, cancel := context.WithTimeout(ctx, uc.timeout)
	defer cancel()

	key := moversCacheKey + strconv.Itoa(n)
	if uc.cache != nil {
		if b, ok, err := uc.cache.GetBytes(ctx, key); err == nil && ok {
			var items []models.MoverItem
			if json.Unmarshal(b, &items) == nil {
				return items, nil
			}
		} else if err != nil {
			uc.log.Warn("movers cache read", logger.Error(err))
		}
	}

	recs, err := uc.store.Latest(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("latest movers: %w", err)
	}
	items := make([]models.MoverItem, 0, len(recs))
	for _, r := range recs {
		items = append(items, models.NewMoverItem(r))
	}

	if uc.cache != nil {
		if b, err := json.Marshal(items); err == nil {
			if err := uc.cache.SetBytes(ctx, key, b, uc.cacheTTL); err != nil {
				uc.log.Warn("movers cache write", logger.Error(err))
			}
		}
	}
	return items, nil
}

// Invalidate drops every cached limit. The ingestor calls it after a new record is stored.
func (uc *MoversQueryUseCase) Invalidate(ctx context.Context) error {
	if uc.cache == nil {
		return nil
	}
	keys := make([]string, 0, MaxWindowDays)
	for n := 1; n <= MaxWindowDays; n++ {
		keys = append(keys, moversCacheKey+strconv.Itoa(n))
	}
	return uc.cache.Delete(ctx, keys...)
}
