// Package catalog resolves treatment definitions (duration and price) for bookings.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound matches any NotFoundError.
var ErrNotFound = errors.New("catalog: treatment not found")

// Treatment is a bookable service as the catalog currently defines it.
type Treatment struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
	PriceCents      int64  `json:"price_cents"`
	Active          bool   `json:"active"`
}

// Validate checks the catalog invariants for a treatment definition.
func (t Treatment) Validate() error {
	switch {
	case strings.TrimSpace(t.ID) == "":
		return errors.New("catalog: treatment id required")
	case strings.TrimSpace(t.Name) == "":
		return errors.New("catalog: treatment name required")
	case t.DurationMinutes <= 0:
		return fmt.Errorf("catalog: treatment %s duration must be positive", t.ID)
	case t.PriceCents < 0:
		return fmt.Errorf("catalog: treatment %s price must not be negative", t.ID)
	}
	return nil
}

// Lookup resolves treatment ids. Results follow the order of ids. Unknown or inactive ids
// fail the whole lookup with a *NotFoundError listing them.
type Lookup interface {
	ResolveTreatments(ctx context.Context, ids []string) ([]Treatment, error)
}

// Store is a catalog that staff can edit. List returns active treatments only.
type Store interface {
	Lookup
	Upsert(ctx context.Context, t Treatment) error
	List(ctx context.Context) ([]Treatment, error)
}

// NotFoundError lists the ids that could not be resolved.
type NotFoundError struct {
	Missing []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("catalog: treatments not found: %s", strings.Join(e.Missing, ", "))
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// MissingIDs extracts the unresolved ids from err, if it is a lookup miss.
func MissingIDs(err error) []string {
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return nf.Missing
	}
	return nil
}

// order arranges found treatments in request order and reports misses.
func order(ids []string, found map[string]Treatment) ([]Treatment, error) {
	out := make([]Treatment, 0, len(ids))
	var missing []string
	for _, id := range ids {
		t, ok := found[id]
		if !ok || !t.Active {
			missing = append(missing, id)
			continue
		}
		out = append(out, t)
	}
	if len(missing) > 0 {
		return nil, &NotFoundError{Missing: missing}
	}
	return out, nil
}
