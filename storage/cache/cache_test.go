package cache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pintosgo/fscore/sector"
)

func TestReadWriteRoundTrip(t *testing.T) {
	c, _ := TestingNewCache()

	src := make([]byte, 4)
	copy(src, []byte{1, 2, 3, 4})
	require.NoError(t, c.Write(sector.ID(5), src, 10, 4))

	dst := make([]byte, 4)
	require.NoError(t, c.Read(sector.ID(5), dst, 10, 4))
	assert.Equal(t, src, dst)
}

func TestPartialWritePreservesRestOfSector(t *testing.T) {
	c, dev := TestingNewCache()

	full := make([]byte, sector.Size)
	for i := range full {
		full[i] = 0xAB
	}
	require.NoError(t, dev.WriteSector(sector.ID(1), full))

	require.NoError(t, c.Write(sector.ID(1), []byte{1, 2}, 0, 2))

	rest := make([]byte, 2)
	require.NoError(t, c.Read(sector.ID(1), rest, 100, 2))
	assert.Equal(t, []byte{0xAB, 0xAB}, rest)
}

func TestReadOfNoneSectorErrors(t *testing.T) {
	c, _ := TestingNewCache()
	err := c.Read(sector.None, make([]byte, 1), 0, 1)
	assert.Error(t, err)
}

func TestOutOfBoundsRangeErrors(t *testing.T) {
	c, _ := TestingNewCache()
	err := c.Read(sector.ID(0), make([]byte, 1), sector.Size-1, 2)
	assert.Error(t, err)
}

func TestClockDemotesBeforeEvicting(t *testing.T) {
	c, _ := TestingNewCache()

	// fill all N slots and mark them access=true
	for i := 0; i < SlotCount; i++ {
		require.NoError(t, c.Write(sector.ID(i), []byte{1}, 0, 1))
		c.TestingSetAccess(i, true)
	}

	startHand := c.TestingHand()
	require.Equal(t, 0, startHand)

	// the miss below must sweep past every access=true slot once
	// (clearing access) before it can evict the one at the original
	// hand position.
	require.NoError(t, c.Write(sector.ID(SlotCount), []byte{9}, 0, 1))

	for i := 0; i < SlotCount; i++ {
		_, _, access, _ := c.TestingSlotState(i)
		if i == startHand {
			continue
		}
		assert.False(t, access, "slot %d should have been demoted", i)
	}
}

func TestDirtyEvictionWritesBack(t *testing.T) {
	c, dev := TestingNewCache()

	require.NoError(t, c.Write(sector.ID(0), []byte{0x42}, 0, 1))

	// miss SlotCount more times: the first SlotCount-1 misses claim the
	// empty slots, and the last one evicts sector 0's dirty slot.
	for i := 1; i <= SlotCount; i++ {
		require.NoError(t, c.Read(sector.ID(1000+i), make([]byte, 1), 0, 1))
	}

	back := make([]byte, sector.Size)
	require.NoError(t, dev.ReadSector(sector.ID(0), back))
	assert.Equal(t, byte(0x42), back[0])
}

func TestConcurrentAccessSameSector(t *testing.T) {
	c, _ := TestingNewCache()
	require.NoError(t, c.Write(sector.ID(0), []byte{1}, 0, 1))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			buf := make([]byte, 1)
			buf[0] = byte(n)
			_ = c.Write(sector.ID(0), buf, 0, 1)
			_ = c.Read(sector.ID(0), make([]byte, 1), 0, 1)
		}(i)
	}
	wg.Wait()
}
