package resolve

import (
	"context"
	"fmt"

	"corkboard/api/internal/normalize"
)

// Prober reports the confirmed live owner of a name within some
// scope, or found=false when the name is free. Implementations must
// re-read the entity behind an index hit and confirm its current name
// still occupies the probed key; a stale hit counts as free.
type Prober func(ctx context.Context, name string) (ownerID string, found bool, err error)

// UniqueName returns base if it is free in the probed scope, else the
// first free "base_1", "base_2", ... . excludeID names an entity
// allowed to keep the name, used when renaming an entity to a name
// only a different entity may hold. Probing is unbounded; true
// collisions are rare and each probe is a full round-trip.
func UniqueName(ctx context.Context, probe Prober, base, excludeID string) (string, error) {
	if base == "" {
		base = normalize.DefaultBaseName
	}
	name := base
	for n := 1; ; n++ {
		ownerID, found, err := probe(ctx, name)
		if err != nil {
			return "", fmt.Errorf("probe %q: %w", name, err)
		}
		if !found || ownerID == excludeID {
			return name, nil
		}
		name = fmt.Sprintf("%s_%d", base, n)
	}
}
