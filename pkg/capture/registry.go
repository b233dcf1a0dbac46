package capture

import (
	"fmt"
	"sort"
)

// Registry maps the local config "capture_impl" key to a backend constructor.
type Registry map[string]func() Backend

// Resolve builds the backend registered under name.
func (r Registry) Resolve(name string) (Backend, error) {
	newBackend, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("unknown capture implementation %q (available: %v)", name, r.Names())
	}
	return newBackend(), nil
}

// Names lists the registered keys in order.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
