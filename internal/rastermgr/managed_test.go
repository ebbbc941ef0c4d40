package rastermgr

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/geoflow/router/rasterio"
	"github.com/geoflow/router/rasterio/memdataset"
)

func TestRoundTripSetGetClose(t *testing.T) {
	ds := memdataset.New(20, 20, 4, 4, 1)
	mr, err := Open(ds, 1, rasterio.ModeReadWrite, Options{CacheCapacity: 2})
	require.NoError(t, err)

	require.NoError(t, mr.Set(0, 0, 1))
	require.NoError(t, mr.Set(19, 19, 2))
	require.NoError(t, mr.Set(5, 17, 3))

	require.NoError(t, mr.Close())

	require.Equal(t, 1.0, ds.Get(1, 0, 0))
	require.Equal(t, 2.0, ds.Get(1, 19, 19))
	require.Equal(t, 3.0, ds.Get(1, 5, 17))
}

func TestGetReadsThroughToDisk(t *testing.T) {
	ds := memdataset.New(8, 8, 4, 4, 1)
	ds.WriteWindow(1, 0, 0, 8, 8, func() []float64 {
		buf := make([]float64, 64)
		for i := range buf {
			buf[i] = float64(i)
		}
		return buf
	}())

	mr, err := Open(ds, 1, rasterio.ModeRead, Options{CacheCapacity: 1})
	require.NoError(t, err)
	v, err := mr.Get(3, 2)
	require.NoError(t, err)
	require.Equal(t, float64(2*8+3), v)
	require.NoError(t, mr.Close())
}

func TestCacheEvictionFlushesDirtyBlocks(t *testing.T) {
	// 16x16 raster, 4x4 blocks -> 16 blocks total; capacity 1 forces
	// every Set into a different block to evict and flush the previous.
	ds := memdataset.New(16, 16, 4, 4, 1)
	mr, err := Open(ds, 1, rasterio.ModeReadWrite, Options{CacheCapacity: 1})
	require.NoError(t, err)

	require.NoError(t, mr.Set(0, 0, 11))
	require.NoError(t, mr.Set(4, 0, 22)) // different block, evicts block (0,0)
	require.NoError(t, mr.Set(8, 0, 33))

	// Values already evicted must already be visible on "disk" even
	// before Close.
	require.Equal(t, 11.0, ds.Get(1, 0, 0))
	require.Equal(t, 22.0, ds.Get(1, 4, 0))

	require.NoError(t, mr.Close())
	require.Equal(t, 33.0, ds.Get(1, 8, 0))
}

func TestBadBlockGeometryRejected(t *testing.T) {
	ds := memdataset.New(10, 10, 3, 3, 1) // 3 is not a power of two
	_, err := Open(ds, 1, rasterio.ModeRead, Options{})
	require.ErrorIs(t, err, ErrBadBlockGeometry)
}

func TestBadBandRejected(t *testing.T) {
	ds := memdataset.New(10, 10, 4, 4, 1)
	_, err := Open(ds, 2, rasterio.ModeRead, Options{})
	require.ErrorIs(t, err, ErrBadBand)
}

func TestSetOnReadOnlyFails(t *testing.T) {
	ds := memdataset.New(8, 8, 4, 4, 1)
	mr, err := Open(ds, 1, rasterio.ModeRead, Options{})
	require.NoError(t, err)
	require.Error(t, mr.Set(0, 0, 1))
}

func TestPartialEdgeBlockRoundTrips(t *testing.T) {
	// 10x10 raster with 4x4 blocks: the last column/row of blocks is
	// partial (2 valid pixels wide/tall).
	ds := memdataset.New(10, 10, 4, 4, 1)
	mr, err := Open(ds, 1, rasterio.ModeReadWrite, Options{CacheCapacity: 64})
	require.NoError(t, err)
	require.NoError(t, mr.Set(9, 9, 42))
	require.NoError(t, mr.Close())
	require.Equal(t, 42.0, ds.Get(1, 9, 9))
}
