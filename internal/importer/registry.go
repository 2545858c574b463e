package importer

import (
	"slices"
	"sync"
)

// Factory creates a fresh importer for one run.
type Factory func() Importer

// registry holds all registered importers.
var (
	registryMu sync.RWMutex
	factories  = make(map[string]Factory)
)

// Register adds an importer under name. Importers register during init().
// Panics if the name is already registered.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := factories[name]; exists {
		panic("importer already registered: " + name)
	}
	factories[name] = f
}

// Get returns a new instance of the named importer.
func Get(name string) (Importer, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	f, ok := factories[name]
	if !ok {
		return nil, false
	}
	return f(), true
}

// Names returns the registered importer names in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Kinds lists the entity kinds an importer supports.
func Kinds(imp Importer) []string {
	var kinds []string
	if _, ok := imp.(KeywordImporter); ok {
		kinds = append(kinds, KindKeywords)
	}
	if _, ok := imp.(PlaceImporter); ok {
		kinds = append(kinds, KindPlaces)
	}
	if _, ok := imp.(EventImporter); ok {
		kinds = append(kinds, KindEvents)
	}
	return kinds
}

// Reset clears the registry. Only for testing.
func Reset() {
	registryMu.Lock()
	defer registryMu.Unlock()
	factories = make(map[string]Factory)
}
