package data

import (
	"embed"
	"io/fs"
	"sort"
)

//go:embed workflows
var embeddedFS embed.FS

// WorkflowsFS returns the embedded sample definitions rooted at `data/workflows`.
func WorkflowsFS() fs.FS {
	sub, err := fs.Sub(embeddedFS, "workflows")
	if err != nil {
		return embeddedFS
	}
	return sub
}

// Definitions lists the embedded sample definition file names, sorted.
func Definitions() ([]string, error) {
	entries, err := fs.ReadDir(WorkflowsFS(), ".")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// ReadDefinition returns the raw bytes of one embedded sample definition.
func ReadDefinition(name string) ([]byte, error) {
	return fs.ReadFile(WorkflowsFS(), name)
}
