package graph

import (
	"sort"
	"sync"

	"github.com/rendis/chatflow/internal/validation"
	"github.com/rendis/chatflow/pkg/schema"
)

// Store is the in-memory registry of compiled scenarios. Registration
// validates the definition and builds the lookup indexes the engine walks.
// Safe for concurrent use.
type Store struct {
	validator validation.Validator

	mu        sync.RWMutex
	scenarios map[string]*Scenario
}

// Scenario is a registered definition with its lookup indexes. Immutable
// after compilation.
type Scenario struct {
	Definition *schema.ScenarioDefinition

	nodesByID map[string]*schema.Node
	outgoing  map[string][]schema.Edge
}

// NewStore creates an empty Store backed by the given validator.
func NewStore(v validation.Validator) *Store {
	return &Store{
		validator: v,
		scenarios: make(map[string]*Scenario),
	}
}

// Register validates and indexes a scenario definition. Re-registering an
// existing ID replaces the previous version.
func (s *Store) Register(def *schema.ScenarioDefinition) error {
	if err := s.validator.ValidateDefinition(def); err != nil {
		return err
	}

	compiled := compile(def)

	s.mu.Lock()
	s.scenarios[def.ID] = compiled
	s.mu.Unlock()
	return nil
}

// Get returns the compiled scenario for an ID.
func (s *Store) Get(id string) (*Scenario, error) {
	s.mu.RLock()
	sc, ok := s.scenarios[id]
	s.mu.RUnlock()
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "scenario %q not registered", id)
	}
	return sc, nil
}

// List returns the definitions of every registered scenario, ordered by ID.
func (s *Store) List() []*schema.ScenarioDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*schema.ScenarioDefinition, 0, len(s.scenarios))
	for _, sc := range s.scenarios {
		out = append(out, sc.Definition)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Delete removes a scenario from the registry.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scenarios[id]; !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "scenario %q not registered", id)
	}
	delete(s.scenarios, id)
	return nil
}

func compile(def *schema.ScenarioDefinition) *Scenario {
	sc := &Scenario{
		Definition: def,
		nodesByID:  make(map[string]*schema.Node, len(def.Nodes)),
		outgoing:   make(map[string][]schema.Edge, len(def.Nodes)),
	}
	for i := range def.Nodes {
		sc.nodesByID[def.Nodes[i].ID] = &def.Nodes[i]
	}
	for _, e := range def.Edges {
		sc.outgoing[e.Source] = append(sc.outgoing[e.Source], e)
	}
	return sc
}

// NodeByID returns a node of the scenario.
func (sc *Scenario) NodeByID(id string) (*schema.Node, bool) {
	n, ok := sc.nodesByID[id]
	return n, ok
}

// StartNode returns the node the walk begins at.
func (sc *Scenario) StartNode() *schema.Node {
	return sc.nodesByID[sc.Definition.StartNodeID]
}

// OutgoingEdges returns the edges leaving a node in definition order.
func (sc *Scenario) OutgoingEdges(nodeID string) []schema.Edge {
	return sc.outgoing[nodeID]
}
