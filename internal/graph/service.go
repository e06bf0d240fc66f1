package graph

import (
	"context"

	"github.com/rendis/chatflow/internal/store"
	"github.com/rendis/chatflow/pkg/schema"
)

// Service binds the in-memory registry to the persistence layer: writes go
// to both, reads come from the registry. LoadAll repopulates the registry
// from the store at startup.
type Service struct {
	registry *Store
	store    store.Store
}

// NewService creates a Service over a registry and a persistent store.
func NewService(registry *Store, st store.Store) *Service {
	return &Service{registry: registry, store: st}
}

// LoadAll registers every persisted scenario. Definitions that no longer
// validate are reported, not skipped silently.
func (s *Service) LoadAll(ctx context.Context) error {
	recs, err := s.store.ListScenarios(ctx)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "list scenarios: %s", err.Error()).WithCause(err)
	}
	for _, rec := range recs {
		if err := s.registry.Register(rec.Definition); err != nil {
			return err
		}
	}
	return nil
}

// Put validates, registers and persists a scenario definition. Replacing an
// existing ID is an upsert; running sessions keep walking the compiled
// version they started on only until their next lookup.
func (s *Service) Put(ctx context.Context, def *schema.ScenarioDefinition) error {
	if err := s.registry.Register(def); err != nil {
		return err
	}
	rec := &store.ScenarioRecord{
		ID:         def.ID,
		Name:       def.Name,
		Definition: def,
	}
	if err := s.store.PutScenario(ctx, rec); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "persist scenario: %s", err.Error()).WithCause(err)
	}
	return nil
}

// Get returns a registered definition.
func (s *Service) Get(ctx context.Context, id string) (*schema.ScenarioDefinition, error) {
	sc, err := s.registry.Get(id)
	if err != nil {
		return nil, err
	}
	return sc.Definition, nil
}

// List returns all registered definitions ordered by ID.
func (s *Service) List(ctx context.Context) ([]*schema.ScenarioDefinition, error) {
	return s.registry.List(), nil
}

// Delete removes a scenario from the registry and the store.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.registry.Delete(id); err != nil {
		return err
	}
	if err := s.store.DeleteScenario(ctx, id); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "delete scenario: %s", err.Error()).WithCause(err)
	}
	return nil
}
