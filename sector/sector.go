// Package sector defines the on-disk addressing unit shared by every
// storage package: the sector identifier and the fixed sector size.
//
// This mirrors the role github.com/HayatoShiba/ppdb/storage/page plays for
// ppdb's page-oriented storage, and github.com/HayatoShiba/ppdb/common plays
// for its object identifiers: one small, dependency-free package that every
// other storage package imports for its addressing primitive.
package sector

// Size is the fixed byte size of one sector. 512 bytes, matching the
// reference disk geometry this module was built against.
const Size = 512

// ID identifies a sector on the block device. Non-negative values are
// valid sector indices; None is the sentinel for "no sector".
type ID int64

// None is the sentinel sector identifier meaning "no sector".
const None ID = -1

// Count returns the number of sectors needed to hold n bytes, rounded up.
func Count(n int64) int64 {
	if n <= 0 {
		return 0
	}
	return (n + Size - 1) / Size
}
