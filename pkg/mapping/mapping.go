// Package mapping turns raw remote records into the Darwin Core entity graph. Each Mapping
// handles a set of remote object types ("pools"); a Registry picks the first that fits.
package mapping

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/Ramsey-B/lichen/pkg/models"
	"github.com/Ramsey-B/lichen/pkg/rawrecord"
)

var (
	// ErrNoMappingFound is returned when no registered mapping supports an object type
	ErrNoMappingFound = errors.New("no mapping found")
	// ErrMissingNaturalKey is the only fatal mapping condition: the occurrence has no identity
	ErrMissingNaturalKey = errors.New("occurrence natural key missing")
)

// Mapping maps one raw record onto target, mutating target.Occurrence and its links in place.
type Mapping interface {
	Name() string
	SupportsPools() []string
	MapOccurrence(ctx context.Context, raw rawrecord.Record, target *models.ImportRecord) error
}

// AssetResolver resolves download URLs for asset ids the record itself does not carry.
type AssetResolver interface {
	Resolve(ctx context.Context, assetIDs []int64) (map[int64]string, error)
}

// Registry is an ordered list of mappings.
type Registry struct {
	mappings []Mapping
}

func NewRegistry(mappings ...Mapping) *Registry {
	return &Registry{mappings: mappings}
}

func (r *Registry) Register(m Mapping) {
	r.mappings = append(r.mappings, m)
}

// Resolve returns the first mapping supporting objectType.
func (r *Registry) Resolve(objectType string) (Mapping, error) {
	for _, m := range r.mappings {
		if slices.Contains(m.SupportsPools(), objectType) {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w for object type %q", ErrNoMappingFound, objectType)
}

// ObjectTypes lists every supported object type in registration order.
func (r *Registry) ObjectTypes() []string {
	var out []string
	for _, m := range r.mappings {
		for _, pool := range m.SupportsPools() {
			if !slices.Contains(out, pool) {
				out = append(out, pool)
			}
		}
	}
	return out
}
