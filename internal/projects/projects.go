// Package projects lists the projects the command line can build, by the name given in the
// "project" configuration key.
package projects

import (
	"fmt"
	"sort"

	"github.com/imishinist/mlproject/internal/mlproject"
	"github.com/imishinist/mlproject/internal/projects/linear"
)

// Key is the configuration key selecting the project.
const Key = "project"

// Default is used when the configuration has no "project" key.
const Default = linear.Name

var builders = map[string]mlproject.Builder{
	linear.Name: linear.Builder{},
}

// Get returns the builder of the named project.
func Get(name string) (mlproject.Builder, error) {
	if name == "" {
		name = Default
	}
	b, found := builders[name]
	if !found {
		return nil, fmt.Errorf("unknown project %q, available: %v", name, Names())
	}
	return b, nil
}

// Names returns the available projects, sorted.
func Names() []string {
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
