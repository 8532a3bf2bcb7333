package scanner

import "github.com/usenetsync/usenetsync/pkg/models"

// Change classifies one path between two scans of a folder.
type Change struct {
	Kind         models.ChangeKind
	RelativePath string
	OldHash      string
	NewHash      string
	Size         int64
}

// ChangeSummary carries the per-kind counts of a change set.
type ChangeSummary struct {
	Added     int
	Modified  int
	Deleted   int
	Unchanged int
}

// DetectChanges compares two scans of the same folder by relative path and
// content hash. Renames are reported as a delete plus an add.
func DetectChanges(prev, cur []FileInfo) ([]Change, ChangeSummary) {
	prevByPath := make(map[string]FileInfo, len(prev))
	for _, f := range prev {
		prevByPath[f.RelativePath] = f
	}

	var changes []Change
	var summary ChangeSummary

	for _, f := range cur {
		old, existed := prevByPath[f.RelativePath]
		switch {
		case !existed:
			summary.Added++
			changes = append(changes, Change{
				Kind:         models.ChangeAdded,
				RelativePath: f.RelativePath,
				NewHash:      f.Hash,
				Size:         f.Size,
			})
		case old.Hash != f.Hash:
			summary.Modified++
			changes = append(changes, Change{
				Kind:         models.ChangeModified,
				RelativePath: f.RelativePath,
				OldHash:      old.Hash,
				NewHash:      f.Hash,
				Size:         f.Size,
			})
		default:
			summary.Unchanged++
			changes = append(changes, Change{
				Kind:         models.ChangeUnchanged,
				RelativePath: f.RelativePath,
				OldHash:      old.Hash,
				NewHash:      f.Hash,
				Size:         f.Size,
			})
		}
		delete(prevByPath, f.RelativePath)
	}

	for path, old := range prevByPath {
		summary.Deleted++
		changes = append(changes, Change{
			Kind:         models.ChangeDeleted,
			RelativePath: path,
			OldHash:      old.Hash,
			Size:         old.Size,
		})
	}

	return changes, summary
}
