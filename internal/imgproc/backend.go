package imgproc

import (
	"fmt"
	"sort"
)

var resizers = map[string]func() Resizer{
	"bicubic": func() Resizer { return BicubicResizer{} },
}

// NewResizer returns the resize backend registered under name. An empty name
// selects "bicubic".
func NewResizer(name string) (Resizer, error) {
	if name == "" {
		name = "bicubic"
	}
	mk, ok := resizers[name]
	if !ok {
		return nil, fmt.Errorf("unknown resize backend %q (available: %v)", name, Backends())
	}
	return mk(), nil
}

// Backends lists the compiled-in resize backends.
func Backends() []string {
	names := make([]string, 0, len(resizers))
	for name := range resizers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
