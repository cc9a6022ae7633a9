package classroom

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// TreeFilename is the name of the persisted tree inside a community's
// output directory.
const TreeFilename = "classroom-data.json"

// TreePath returns the location of the tree for community under outputDir.
func TreePath(outputDir, community string) string {
	return filepath.Join(outputDir, community, TreeFilename)
}

// Load reads a persisted tree.
func Load(path string) (*Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read classroom tree: %w", err)
	}
	var t Tree
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse classroom tree %s: %w", path, err)
	}
	return &t, nil
}

// Save writes the tree to path, replacing any previous snapshot. The file is
// written to a temporary name first so readers never observe a partial tree.
func (t *Tree) Save(path string) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal classroom tree: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write classroom tree: %w", err)
	}
	return os.Rename(tmp, path)
}
