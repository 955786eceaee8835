package mirror

import (
	"fmt"

	"food-ordering-kiosk/internal/entity"

	lru "github.com/hashicorp/golang-lru/v2"
)

// AnonymousKey scopes the mirror entry of a session with no authenticated user.
const AnonymousKey = "anonymous"

const DefaultSize = 64

// Mirror is a bounded in-process cache of cart contents keyed by user id.
// Values are copied on the way in and out so callers never share slices.
type Mirror struct {
	cache *lru.Cache[string, []entity.CartLine]
}

func New(size int) (*Mirror, error) {
	if size <= 0 {
		size = DefaultSize
	}
	cache, err := lru.New[string, []entity.CartLine](size)
	if err != nil {
		return nil, fmt.Errorf("create mirror: %w", err)
	}
	return &Mirror{cache: cache}, nil
}

func Key(userID string) string {
	if userID == "" {
		return AnonymousKey
	}
	return userID
}

func (m *Mirror) Get(userID string) ([]entity.CartLine, bool) {
	lines, ok := m.cache.Get(Key(userID))
	if !ok {
		return nil, false
	}
	return entity.CloneLines(lines), true
}

func (m *Mirror) Set(userID string, lines []entity.CartLine) {
	cp := entity.CloneLines(lines)
	if cp == nil {
		cp = []entity.CartLine{}
	}
	m.cache.Add(Key(userID), cp)
}

// Invalidate removes the user's entry entirely. Used on logout and user switch.
func (m *Mirror) Invalidate(userID string) {
	m.cache.Remove(Key(userID))
}

func (m *Mirror) Purge() {
	m.cache.Purge()
}

func (m *Mirror) Len() int {
	return m.cache.Len()
}
