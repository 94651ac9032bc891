package services

import (
	"context"
	"sync"

	"github.com/adi-253/talkie-chat/internal/models"
	"golang.org/x/sync/singleflight"
)

// ProfileSource fetches user profiles.
type ProfileSource interface {
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
	GetProfiles(ctx context.Context, userIDs []string) ([]models.Profile, error)
}

// ProfileDirectory caches profiles for decorating bubbles and presence lines.
// Concurrent lookups of the same id share one request.
type ProfileDirectory struct {
	source ProfileSource
	group  singleflight.Group

	mu    sync.RWMutex
	cache map[string]*models.Profile
}

func NewProfileDirectory(source ProfileSource) *ProfileDirectory {
	return &ProfileDirectory{
		source: source,
		cache:  make(map[string]*models.Profile),
	}
}

// Get returns the cached profile or fetches it.
func (d *ProfileDirectory) Get(ctx context.Context, userID string) (*models.Profile, error) {
	if p := d.cached(userID); p != nil {
		return p, nil
	}

	v, err, _ := d.group.Do(userID, func() (interface{}, error) {
		p, err := d.source.GetProfile(ctx, userID)
		if err != nil {
			return nil, err
		}
		d.store(p)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Profile), nil
}

// Prime loads every id not yet cached in a single request.
func (d *ProfileDirectory) Prime(ctx context.Context, userIDs []string) error {
	var missing []string
	seen := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		if id == "" || seen[id] || d.cached(id) != nil {
			continue
		}
		seen[id] = true
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return nil
	}

	profiles, err := d.source.GetProfiles(ctx, missing)
	if err != nil {
		return err
	}
	for i := range profiles {
		d.store(&profiles[i])
	}
	return nil
}

// Name returns the display name for userID, or "Unknown" if it cannot be resolved.
func (d *ProfileDirectory) Name(ctx context.Context, userID string) string {
	p, err := d.Get(ctx, userID)
	if err != nil {
		return (*models.Profile)(nil).Name()
	}
	return p.Name()
}

// CachedName is Name without a fetch on a miss.
func (d *ProfileDirectory) CachedName(userID string) string {
	return d.cached(userID).Name()
}

// Invalidate drops a cached profile, e.g. after its counters changed.
func (d *ProfileDirectory) Invalidate(userID string) {
	d.mu.Lock()
	delete(d.cache, userID)
	d.mu.Unlock()
}

func (d *ProfileDirectory) cached(userID string) *models.Profile {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cache[userID]
}

func (d *ProfileDirectory) store(p *models.Profile) {
	d.mu.Lock()
	d.cache[p.ID] = p
	d.mu.Unlock()
}
