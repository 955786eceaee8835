package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"food-ordering-kiosk/internal/entity"
	"food-ordering-kiosk/internal/repository"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

const (
	foodItemsKey  = "catalog:food-items"
	categoriesKey = "catalog:categories"

	DefaultTTL          = 5 * time.Minute
	defaultStoreTimeout = 10 * time.Second
)

type Store interface {
	ListFoodItems(ctx context.Context) ([]entity.FoodItem, error)
	ListCategories(ctx context.Context) ([]entity.Category, error)
}

type Filter struct {
	CategoryID    string
	AvailableOnly bool
	FeaturedOnly  bool
}

func (f Filter) match(item entity.FoodItem) bool {
	if f.CategoryID != "" && item.CategoryID != f.CategoryID {
		return false
	}
	if f.AvailableOnly && !item.IsAvailable {
		return false
	}
	if f.FeaturedOnly && !item.IsFeatured {
		return false
	}
	return true
}

// Service serves the menu through a Redis read-through cache.
type Service struct {
	store   Store
	rdb     *redis.Client
	ttl     time.Duration
	timeout time.Duration
	logger  zerolog.Logger
}

// NewService creates the menu service. timeout bounds each store read.
func NewService(store Store, rdb *redis.Client, ttl, timeout time.Duration, logger zerolog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return &Service{
		store:   store,
		rdb:     rdb,
		ttl:     ttl,
		timeout: timeout,
		logger:  logger.With().Str("component", "catalog").Logger(),
	}
}

func (s *Service) listFoodItems(ctx context.Context) ([]entity.FoodItem, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.store.ListFoodItems(ctx)
}

func (s *Service) listCategories(ctx context.Context) ([]entity.Category, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.store.ListCategories(ctx)
}

// cached reads key into out. It reports false on a cache miss.
func (s *Service) cached(ctx context.Context, key string, out interface{}) (bool, error) {
	if s.rdb == nil {
		return false, nil
	}
	val, err := s.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			s.logger.Debug().Msgf("%s not found in cache", key)
			return false, nil
		}
		s.logger.Error().Err(err).Msgf("Error getting %s from cache", key)
		return false, err
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		s.logger.Error().Err(err).Msgf("Error unmarshalling %s", key)
		return false, nil
	}
	return true, nil
}

func (s *Service) put(ctx context.Context, key string, v interface{}) {
	if s.rdb == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error().Err(err).Msgf("Error marshalling %s", key)
		return
	}
	if err := s.rdb.Set(ctx, key, data, s.ttl).Err(); err != nil {
		s.logger.Error().Err(err).Msgf("Error setting %s in cache", key)
	}
}

func (s *Service) allFoodItems(ctx context.Context) ([]entity.FoodItem, error) {
	var items []entity.FoodItem
	hit, err := s.cached(ctx, foodItemsKey, &items)
	if err != nil {
		return nil, err
	}
	if hit {
		return items, nil
	}

	items, err = s.listFoodItems(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Error listing food items")
		return nil, err
	}
	s.put(ctx, foodItemsKey, items)
	return items, nil
}

// FoodItems returns the menu items matching filter, sorted by name.
func (s *Service) FoodItems(ctx context.Context, filter Filter) ([]entity.FoodItem, error) {
	items, err := s.allFoodItems(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]entity.FoodItem, 0, len(items))
	for _, item := range items {
		if filter.match(item) {
			out = append(out, item)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// FoodItem looks up one menu item with its sizes.
func (s *Service) FoodItem(ctx context.Context, id string) (*entity.FoodItem, error) {
	items, err := s.allFoodItems(ctx)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].ID == id {
			return &items[i], nil
		}
	}
	return nil, fmt.Errorf("%w: food item %s", repository.ErrNotFound, id)
}

// Categories returns the active categories in display order.
func (s *Service) Categories(ctx context.Context) ([]entity.Category, error) {
	var categories []entity.Category
	hit, err := s.cached(ctx, categoriesKey, &categories)
	if err != nil {
		return nil, err
	}
	if !hit {
		categories, err = s.listCategories(ctx)
		if err != nil {
			s.logger.Error().Err(err).Msg("Error listing categories")
			return nil, err
		}
		s.put(ctx, categoriesKey, categories)
	}

	active := make([]entity.Category, 0, len(categories))
	for _, c := range categories {
		if c.IsActive {
			active = append(active, c)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].SortOrder != active[j].SortOrder {
			return active[i].SortOrder < active[j].SortOrder
		}
		return active[i].Name < active[j].Name
	})
	return active, nil
}

// PreWarmCache loads the menu into Redis so the first customer does not wait
// on the remote store.
func (s *Service) PreWarmCache(ctx context.Context) error {
	if s.rdb == nil {
		return nil
	}
	items, err := s.listFoodItems(ctx)
	if err != nil {
		return err
	}
	s.put(ctx, foodItemsKey, items)

	categories, err := s.listCategories(ctx)
	if err != nil {
		return err
	}
	s.put(ctx, categoriesKey, categories)
	s.logger.Info().Msgf("Catalog cache warmed with %d items and %d categories", len(items), len(categories))
	return nil
}

// Invalidate drops the cached menu.
func (s *Service) Invalidate(ctx context.Context) error {
	if s.rdb == nil {
		return nil
	}
	return s.rdb.Del(ctx, foodItemsKey, categoriesKey).Err()
}
