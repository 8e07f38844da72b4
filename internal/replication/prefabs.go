package replication

import (
	"fmt"
	"sort"

	"golang.org/x/text/unicode/norm"
)

// Prefabs maps names to the factories that build them. Names are compared in
// Unicode normal form C so that peers composing them differently agree.
type Prefabs struct {
	factories map[string]PrefabFactory
}

func NewPrefabs() *Prefabs {
	return &Prefabs{factories: make(map[string]PrefabFactory)}
}

func (p *Prefabs) Register(name string, factory PrefabFactory) error {
	if name == "" || factory == nil {
		return fmt.Errorf("prefab registration needs a name and a factory (got %q)", name)
	}
	key := norm.NFC.String(name)
	if _, ok := p.factories[key]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicatePrefab, name)
	}
	p.factories[key] = factory
	return nil
}

func (p *Prefabs) Has(name string) bool {
	_, ok := p.factories[norm.NFC.String(name)]
	return ok
}

// Build creates a new entity from the named prefab.
func (p *Prefabs) Build(name string) (Entity, error) {
	factory, ok := p.factories[norm.NFC.String(name)]
	if !ok {
		return nil, &LookupError{What: LookupPrefab, Name: fmt.Sprintf("%q", name)}
	}
	return factory(), nil
}

func (p *Prefabs) Names() []string {
	names := make([]string, 0, len(p.factories))
	for name := range p.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
