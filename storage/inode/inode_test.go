package inode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pintosgo/fscore/sector"
)

func TestCreateThenReadIsZeroed(t *testing.T) {
	table, _ := TestingNewTable(64)
	require.NoError(t, table.Create(sector.ID(0), 100))

	ino, err := table.Open(sector.ID(0))
	require.NoError(t, err)
	defer table.Close(ino)

	assert.EqualValues(t, 100, ino.Length())

	dst := make([]byte, 100)
	for i := range dst {
		dst[i] = 0xFF
	}
	n, err := table.ReadAt(ino, dst, 100, 0)
	require.NoError(t, err)
	assert.Equal(t, 100, n)
	for i, b := range dst {
		assert.Equalf(t, byte(0), b, "byte %d not zeroed", i)
	}
}

func TestReadPastEndOfFileIsShort(t *testing.T) {
	table, _ := TestingNewTable(64)
	require.NoError(t, table.Create(sector.ID(0), 10))

	ino, err := table.Open(sector.ID(0))
	require.NoError(t, err)
	defer table.Close(ino)

	dst := make([]byte, 20)
	n, err := table.ReadAt(ino, dst, 20, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestWriteNeverGrowsFile(t *testing.T) {
	table, _ := TestingNewTable(64)
	require.NoError(t, table.Create(sector.ID(0), 10))

	ino, err := table.Open(sector.ID(0))
	require.NoError(t, err)
	defer table.Close(ino)

	src := make([]byte, 20)
	for i := range src {
		src[i] = 1
	}
	n, err := table.WriteAt(ino, src, 20, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.EqualValues(t, 10, ino.Length())
}

func TestDenyWriteBlocksWrites(t *testing.T) {
	table, _ := TestingNewTable(64)
	require.NoError(t, table.Create(sector.ID(0), 10))

	ino, err := table.Open(sector.ID(0))
	require.NoError(t, err)
	defer table.Close(ino)

	table.DenyWrite(ino)
	n, err := table.WriteAt(ino, []byte{1, 2, 3}, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	table.AllowWrite(ino)
	n, err = table.WriteAt(ino, []byte{1, 2, 3}, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestDenyWriteCntCappedAtOpenCnt(t *testing.T) {
	table, _ := TestingNewTable(64)
	require.NoError(t, table.Create(sector.ID(0), 10))

	ino, err := table.Open(sector.ID(0))
	require.NoError(t, err)
	defer table.Close(ino)

	table.DenyWrite(ino)
	assert.Equal(t, 1, ino.TestingDenyWriteCnt())

	assert.Panics(t, func() { table.DenyWrite(ino) })
}

func TestReopenSharesState(t *testing.T) {
	table, _ := TestingNewTable(64)
	require.NoError(t, table.Create(sector.ID(0), 10))

	a, err := table.Open(sector.ID(0))
	require.NoError(t, err)
	b, err := table.Open(sector.ID(0))
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.Equal(t, 2, a.TestingOpenCnt())

	_, err = table.WriteAt(a, []byte{9}, 1, 0)
	require.NoError(t, err)
	dst := make([]byte, 1)
	_, err = table.ReadAt(b, dst, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, byte(9), dst[0])

	require.NoError(t, table.Close(a))
	require.NoError(t, table.Close(b))
}

func TestRemoveIsDeferredUntilLastClose(t *testing.T) {
	table, _ := TestingNewTable(64)
	require.NoError(t, table.Create(sector.ID(0), 512))

	a, err := table.Open(sector.ID(0))
	require.NoError(t, err)
	b, err := table.Open(sector.ID(0))
	require.NoError(t, err)

	table.Remove(a)
	assert.True(t, a.TestingRemoved())

	// still readable/writable while any opener remains.
	n, err := table.WriteAt(a, []byte{7}, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, table.Close(a))

	// b still open: the extent is still in place and a's write is
	// readable through b.
	got := make([]byte, 1)
	n, err = table.ReadAt(b, got, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, byte(7), got[0])

	require.NoError(t, table.Close(b))

	// now that both closed, a fresh Create should be able to reuse the
	// released sectors.
	require.NoError(t, table.Create(sector.ID(1), 512))
}

func TestOpenDeduplicatesBySector(t *testing.T) {
	table, _ := TestingNewTable(64)
	// sector 2, not 1: Create(0, 10) reserves sector 0 for its header
	// and claims sector 1 for its one-sector data extent, so a second
	// inode's header must land past that to stay disjoint.
	require.NoError(t, table.Create(sector.ID(0), 10))
	require.NoError(t, table.Create(sector.ID(2), 10))

	a, err := table.Open(sector.ID(0))
	require.NoError(t, err)
	c, err := table.Open(sector.ID(2))
	require.NoError(t, err)

	assert.NotSame(t, a, c)
	require.NoError(t, table.Close(a))
	require.NoError(t, table.Close(c))
}
