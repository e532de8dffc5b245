package blacklist

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"migration-agent/agent/internal/models"
	"migration-agent/shared/config"
)

// Backend is the durable side of the registry.
type Backend interface {
	LoadBlacklist(ctx context.Context) ([]models.BlacklistEntry, error)
	AddBlacklistEntries(ctx context.Context, entries []models.BlacklistEntry) error
}

// Registry is the blacklist store: an in-memory cache of the durable exclusion sets.
// Membership only grows. Add calls are serialized and persisted before the cache changes,
// so a reader never sees an entry the backend does not have.
type Registry struct {
	mu      sync.RWMutex
	writeMu sync.Mutex
	backend Backend
	sets    map[models.BlacklistKind]map[string]struct{}
}

func NewRegistry(backend Backend) *Registry {
	return &Registry{
		backend: backend,
		sets:    newSets(),
	}
}

func newSets() map[models.BlacklistKind]map[string]struct{} {
	return map[models.BlacklistKind]map[string]struct{}{
		models.BlacklistCoin:      {},
		models.BlacklistDeveloper: {},
		models.BlacklistHandle:    {},
	}
}

// Normalize canonicalizes a value for its set: symbols upper-case, handles lower-case
// without a leading "@", developer ids trimmed.
func Normalize(kind models.BlacklistKind, value string) string {
	value = strings.TrimSpace(value)
	switch kind {
	case models.BlacklistCoin:
		return strings.ToUpper(value)
	case models.BlacklistHandle:
		return strings.ToLower(strings.TrimPrefix(value, "@"))
	default:
		return value
	}
}

func validKind(kind models.BlacklistKind) bool {
	switch kind {
	case models.BlacklistCoin, models.BlacklistDeveloper, models.BlacklistHandle:
		return true
	}
	return false
}

// Load replaces the cache with the backend contents.
func (r *Registry) Load(ctx context.Context) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	entries, err := r.backend.LoadBlacklist(ctx)
	if err != nil {
		return fmt.Errorf("load blacklist: %w", err)
	}
	sets := newSets()
	for _, e := range entries {
		if set, ok := sets[e.Kind]; ok {
			set[Normalize(e.Kind, e.Value)] = struct{}{}
		}
	}
	r.mu.Lock()
	r.sets = sets
	r.mu.Unlock()
	return nil
}

// Seed adds the static config lists. Existing entries are kept.
func (r *Registry) Seed(ctx context.Context, cfg config.BlacklistConfig) (int, error) {
	var entries []models.BlacklistEntry
	add := func(kind models.BlacklistKind, values []string) {
		for _, v := range values {
			entries = append(entries, models.BlacklistEntry{Kind: kind, Value: v, Reason: "config seed"})
		}
	}
	add(models.BlacklistCoin, cfg.Coins)
	add(models.BlacklistDeveloper, cfg.Developers)
	add(models.BlacklistHandle, cfg.SocialHandles)
	return r.Add(ctx, entries...)
}

// Contains reports membership of value in the kind's set.
func (r *Registry) Contains(kind models.BlacklistKind, value string) bool {
	value = Normalize(kind, value)
	if value == "" {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sets[kind][value]
	return ok
}

// Add is a set-union of entries into the store. Blank values, models.UnknownValue and
// entries already present are skipped. It returns how many entries were new.
func (r *Registry) Add(ctx context.Context, entries ...models.BlacklistEntry) (int, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	seen := make(map[models.BlacklistKind]map[string]struct{})
	var fresh []models.BlacklistEntry
	for _, e := range entries {
		if !validKind(e.Kind) {
			return 0, fmt.Errorf("blacklist kind %q: %w", e.Kind, config.ErrInvalidValue)
		}
		e.Value = Normalize(e.Kind, e.Value)
		if e.Value == "" || e.Value == models.UnknownValue || r.Contains(e.Kind, e.Value) {
			continue
		}
		if seen[e.Kind] == nil {
			seen[e.Kind] = make(map[string]struct{})
		}
		if _, dup := seen[e.Kind][e.Value]; dup {
			continue
		}
		seen[e.Kind][e.Value] = struct{}{}
		fresh = append(fresh, e)
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	if err := r.backend.AddBlacklistEntries(ctx, fresh); err != nil {
		return 0, fmt.Errorf("persist blacklist entries: %w", err)
	}

	r.mu.Lock()
	for _, e := range fresh {
		r.sets[e.Kind][e.Value] = struct{}{}
	}
	r.mu.Unlock()
	return len(fresh), nil
}

// Snapshot returns sorted copies of every set.
func (r *Registry) Snapshot() map[models.BlacklistKind][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[models.BlacklistKind][]string, len(r.sets))
	for kind, set := range r.sets {
		values := make([]string, 0, len(set))
		for v := range set {
			values = append(values, v)
		}
		sort.Strings(values)
		out[kind] = values
	}
	return out
}

// ParseKind maps user input such as "coin", "developer", "handle" onto a kind.
func ParseKind(s string) (models.BlacklistKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "coin", "symbol", "coins":
		return models.BlacklistCoin, true
	case "developer", "dev", "developers":
		return models.BlacklistDeveloper, true
	case "handle", "social_handle", "social", "handles":
		return models.BlacklistHandle, true
	default:
		return "", false
	}
}
