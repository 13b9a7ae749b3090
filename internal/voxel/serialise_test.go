package voxel

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxelmap/internal/vec"
)

// testProgress — наблюдатель прогресса для тестов
type testProgress struct {
	target     int
	increments int
	quit       bool
}

func (p *testProgress) Quit() bool { return p.quit }

func (p *testProgress) SetTargetProgress(target int) { p.target = target }

func (p *testProgress) IncrementProgress() { p.increments++ }

// buildSampleMap создаёт карту с занятостью, центроидами и метаданными
func buildSampleMap() *Map {
	m := NewMap(0.25, vec.Vec3{X: 8, Y: 8, Z: 8})
	m.SetOrigin(vec.Vec3Float{X: 1, Y: -2, Z: 0.5})
	m.SetOccupancyThreshold(0.1)
	m.EnableVoxelMean()
	m.Info().Set("source", "unit-test")
	m.Info().Set("attempt", 3)

	m.SetOccupancy(m.KeyForIndex(vec.Vec3{X: 1, Y: 2, Z: 3}), 2.0)
	m.SetOccupancy(m.KeyForIndex(vec.Vec3{X: 4, Y: 4, Z: 4}), -1.0)
	m.SetOccupancy(m.KeyForIndex(vec.Vec3{X: -3, Y: 0, Z: 9}), 0.5)

	key := m.KeyForIndex(vec.Vec3{X: 1, Y: 2, Z: 3})
	m.SetVoxelPosition(key, m.VoxelCentre(key).Add(vec.Vec3Float{X: 0.05, Z: -0.02}))
	return m
}

// TestSerialiseRoundTrip: сохранение и загрузка восстанавливают карту
func TestSerialiseRoundTrip(t *testing.T) {
	m := buildSampleMap()

	var buf bytes.Buffer
	saveProgress := &testProgress{}
	require.NoError(t, SaveMap(&buf, m, saveProgress))
	assert.Equal(t, m.RegionCount(), saveProgress.target)
	assert.Equal(t, m.RegionCount(), saveProgress.increments)

	loaded, err := LoadMap(bytes.NewReader(buf.Bytes()), nil, nil)
	require.NoError(t, err)

	assert.Equal(t, m.Resolution(), loaded.Resolution())
	assert.Equal(t, m.Origin(), loaded.Origin())
	assert.Equal(t, m.OccupancyThreshold(), loaded.OccupancyThreshold())
	assert.Equal(t, m.RegionCount(), loaded.RegionCount())
	assert.True(t, loaded.HasVoxelMean())

	assert.Equal(t, "unit-test", func() string {
		v, _ := loaded.Info().Get("source")
		s, _ := v.(string)
		return s
	}())
	assert.Equal(t, 3, loaded.Info().GetInt("attempt"))

	for _, idx := range []vec.Vec3{
		{X: 1, Y: 2, Z: 3},
		{X: 4, Y: 4, Z: 4},
		{X: -3, Y: 0, Z: 9},
		{X: 0, Y: 0, Z: 0},
	} {
		want := m.Occupancy(m.KeyForIndex(idx))
		got := loaded.Occupancy(loaded.KeyForIndex(idx))
		assert.Equal(t, want, got, "занятость вокселя %v", idx)
	}

	key := m.KeyForIndex(vec.Vec3{X: 1, Y: 2, Z: 3})
	assert.InDelta(t, 0, m.VoxelPosition(key).DistanceTo(loaded.VoxelPosition(key)), 1e-6)
}

// TestSerialiseAbort: запрос прерывания останавливает сериализацию
func TestSerialiseAbort(t *testing.T) {
	m := buildSampleMap()

	var buf bytes.Buffer
	err := SaveMap(&buf, m, &testProgress{quit: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSerialiseAborted))
}

// TestSerialiseBadMagic: чужой поток отвергается по сигнатуре
func TestSerialiseBadMagic(t *testing.T) {
	_, err := LoadMap(bytes.NewReader([]byte("PNG\x00mock-data")), nil, nil)
	require.Error(t, err)
}

// TestSerialiseWithQueue: блоки загруженной карты регистрируются в
// очереди сжатия
func TestSerialiseWithQueue(t *testing.T) {
	m := buildSampleMap()
	var buf bytes.Buffer
	require.NoError(t, SaveMap(&buf, m, nil))

	q := newTestQueue(t)
	loaded, err := LoadMap(bytes.NewReader(buf.Bytes()), q, nil)
	require.NoError(t, err)
	assert.Equal(t, loaded.RegionCount()*loaded.Layout().LayerCount(), q.Stats().BlockCount)
}
