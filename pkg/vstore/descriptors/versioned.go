package descriptors

import (
	"fmt"
	"strings"
	"time"
)

// VersionedObjectDescriptor identifies an immutable snapshot of a persisted entity.
// VersionID is an opaque server-assigned tag and compares case-insensitively.
type VersionedObjectDescriptor[ID comparable] struct {
	ID           ID        `json:"id"`
	VersionID    string    `json:"versionId"`
	LastModified time.Time `json:"lastModified"`
}

// Equal reports whether both descriptors name the same snapshot.
func (d VersionedObjectDescriptor[ID]) Equal(other VersionedObjectDescriptor[ID]) bool {
	return d.ID == other.ID && strings.EqualFold(d.VersionID, other.VersionID)
}

// Compare orders versions of the same id by modification time, then by version tag.
func (d VersionedObjectDescriptor[ID]) Compare(other VersionedObjectDescriptor[ID]) int {
	if c := d.LastModified.Compare(other.LastModified); c != 0 {
		return c
	}
	return strings.Compare(strings.ToLower(d.VersionID), strings.ToLower(other.VersionID))
}

// Key returns a string usable as a map key that respects Equal.
func (d VersionedObjectDescriptor[ID]) Key() string {
	return fmt.Sprintf("%v/%s", d.ID, strings.ToLower(d.VersionID))
}

func (d VersionedObjectDescriptor[ID]) String() string {
	return fmt.Sprintf("%v@%s", d.ID, d.VersionID)
}
