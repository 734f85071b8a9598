// Package connections holds the connection capacity policy and the
// short-lived connections cache.
package connections

import (
	"context"
	"log/slog"
	"sort"

	"polymath/internal/models"
)

// MaxPerItem is the persisted connection cap per entity.
const MaxPerItem = 5

// Prune splits conns into the records to keep (at most limit) and the
// records to evict. The keep order is defined by a stable sort over
// (CreatedBy, CreatedAt): user-created connections always outrank
// AI-created ones, and within the same origin newer outranks older, so the
// oldest AI-created connection is the first to go.
func Prune(conns []models.Connection, limit int) (keep, evict []models.Connection) {
	if len(conns) <= limit {
		return conns, nil
	}

	ranked := make([]models.Connection, len(conns))
	copy(ranked, conns)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.CreatedBy != b.CreatedBy {
			return a.CreatedBy == models.OriginUser
		}
		return a.CreatedAt.After(b.CreatedAt)
	})

	return ranked[:limit], ranked[limit:]
}

// Deleter removes a persisted connection.
type Deleter interface {
	DeleteConnection(ctx context.Context, connID string) error
}

// EnforceCap prunes conns to limit and deletes the evicted records through
// d. Deletions are isolated per item: one failure is logged and the rest
// proceed. Returns the kept set and the number of successful deletions.
func EnforceCap(ctx context.Context, d Deleter, conns []models.Connection, limit int) ([]models.Connection, int) {
	keep, evict := Prune(conns, limit)

	deleted := 0
	for _, conn := range evict {
		if err := d.DeleteConnection(ctx, conn.ID); err != nil {
			slog.Warn("prune: delete connection", "id", conn.ID, "err", err)
			continue
		}
		deleted++
	}
	return keep, deleted
}
