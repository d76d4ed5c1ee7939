// internal/registry/registry.go
package registry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	commonerrors "corretor-hub/internal/common/errors"
	"corretor-hub/internal/common/logger"
	"corretor-hub/internal/models"
	"corretor-hub/internal/store"
)

const (
	cacheKeyPrefix = "tenant:channel:"
	cacheTTL       = 5 * time.Minute
)

// Registry resolves inbound channel addresses to tenants. Resolution is
// fail-closed: an unknown address is an error, never a default tenant,
// so a misrouted message can't leak into another tenant's data.
type Registry struct {
	tenants store.TenantStore
	cache   *redis.Client
	logger  logger.Logger
}

// New creates a Registry. cache may be nil; resolution then always hits
// the store.
func New(tenants store.TenantStore, cache *redis.Client, log logger.Logger) *Registry {
	return &Registry{
		tenants: tenants,
		cache:   cache,
		logger:  log.WithFields(map[string]interface{}{"component": "registry"}),
	}
}

// Resolve maps a channel address to its tenant. Suspended and inactive
// tenants resolve to an error: their traffic is dropped upstream, not
// processed under stale config.
func (r *Registry) Resolve(ctx context.Context, channelAddress string) (*models.Tenant, error) {
	if channelAddress == "" {
		return nil, commonerrors.NewChannelUnresolvedError(channelAddress)
	}

	if t := r.fromCache(ctx, channelAddress); t != nil {
		if t.Status != models.TenantActive {
			return nil, commonerrors.NewChannelUnresolvedError(channelAddress)
		}
		return t, nil
	}

	t, err := r.tenants.GetTenantByChannelAddress(ctx, channelAddress)
	if err != nil {
		if commonerrors.IsNotFound(err) {
			return nil, commonerrors.NewChannelUnresolvedError(channelAddress)
		}
		return nil, err
	}

	r.toCache(ctx, channelAddress, t)

	if t.Status != models.TenantActive {
		r.logger.Warn("dropping traffic for non-active tenant", map[string]interface{}{
			"tenantId": t.ID,
			"status":   t.Status,
		})
		return nil, commonerrors.NewChannelUnresolvedError(channelAddress)
	}
	return t, nil
}

// Guard verifies that a record's tenant matches the request's tenant.
// Call it at every trust boundary before touching a loaded record.
func Guard(requestTenantID, recordTenantID string) error {
	if requestTenantID != recordTenantID {
		return commonerrors.NewIsolationViolationError(requestTenantID, recordTenantID)
	}
	return nil
}

func (r *Registry) fromCache(ctx context.Context, address string) *models.Tenant {
	if r.cache == nil {
		return nil
	}
	raw, err := r.cache.Get(ctx, cacheKeyPrefix+address).Result()
	if err != nil {
		return nil
	}
	var t models.Tenant
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil
	}
	return &t
}

func (r *Registry) toCache(ctx context.Context, address string, t *models.Tenant) {
	if r.cache == nil {
		return
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, cacheKeyPrefix+address, raw, cacheTTL).Err(); err != nil {
		r.logger.Warn("tenant cache write failed", map[string]interface{}{"error": err})
	}
}

// Invalidate drops a cached resolution, used after tenant config changes.
func (r *Registry) Invalidate(ctx context.Context, channelAddress string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Del(ctx, cacheKeyPrefix+channelAddress).Err(); err != nil {
		r.logger.Warn("tenant cache invalidation failed", map[string]interface{}{"error": err})
	}
}
