package download

import (
	"fmt"
	"os"

	"github.com/Caia-Tech/classroom-archive/pkg/classroom"
)

// CleanPartial removes video files that exist on disk but were never
// recorded in the manifest, which is what an interrupted download leaves
// behind, along with any leftover in-progress files. It returns the removed
// paths.
func CleanPartial(tree *classroom.Tree, layout Layout, manifest *Manifest) ([]string, error) {
	var removed []string
	for _, it := range CollectVideos(tree, layout, "") {
		part := partialPath(it.Dest)
		if err := os.Remove(part); err == nil {
			removed = append(removed, part)
		} else if !os.IsNotExist(err) {
			return removed, fmt.Errorf("failed to remove %s: %w", part, err)
		}

		info, err := os.Stat(it.Dest)
		if err != nil || !info.Mode().IsRegular() || manifest.Has(it.Dest) {
			continue
		}
		if err := os.Remove(it.Dest); err != nil {
			return removed, fmt.Errorf("failed to remove %s: %w", it.Dest, err)
		}
		removed = append(removed, it.Dest)
	}
	return removed, nil
}
