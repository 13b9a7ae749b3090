package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxelmap/internal/vec"
	"github.com/annel0/voxelmap/internal/voxel"
)

// setupTestStore создаёт хранилище во временной директории
func setupTestStore(t *testing.T) *MapStore {
	t.Helper()
	store, err := NewMapStore(t.TempDir())
	require.NoError(t, err, "Не удалось создать хранилище")
	t.Cleanup(func() { store.Close() })
	return store
}

// sampleMap создаёт небольшую карту с занятостью
func sampleMap() *voxel.Map {
	m := voxel.NewMap(0.5, vec.Vec3{X: 8, Y: 8, Z: 8})
	m.SetOccupancy(m.KeyForIndex(vec.Vec3{X: 1, Y: 1, Z: 1}), 1.0)
	m.SetOccupancy(m.KeyForIndex(vec.Vec3{X: 2, Y: 2, Z: 2}), -1.0)
	return m
}

// TestSaveAndLoadMap: сохранение и загрузка карты через BadgerDB
func TestSaveAndLoadMap(t *testing.T) {
	store := setupTestStore(t)
	m := sampleMap()

	id, err := store.SaveMap("test-map", m, nil)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	loaded, err := store.LoadMap(id, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, m.Resolution(), loaded.Resolution())
	assert.Equal(t, m.RegionCount(), loaded.RegionCount())

	key := loaded.KeyForIndex(vec.Vec3{X: 1, Y: 1, Z: 1})
	assert.Equal(t, float32(1.0), loaded.Occupancy(key))
}

// TestLoadMissingMap: загрузка несуществующей карты завершается ошибкой
func TestLoadMissingMap(t *testing.T) {
	store := setupTestStore(t)
	_, err := store.LoadMap("no-such-id", nil, nil)
	assert.Error(t, err)
}

// TestListMaps: листинг возвращает метаданные всех карт
func TestListMaps(t *testing.T) {
	store := setupTestStore(t)

	id1, err := store.SaveMap("first", sampleMap(), nil)
	require.NoError(t, err)
	id2, err := store.SaveMap("second", sampleMap(), nil)
	require.NoError(t, err)

	records, err := store.ListMaps()
	require.NoError(t, err)
	require.Len(t, records, 2)

	byID := make(map[string]MapRecord)
	for _, rec := range records {
		byID[rec.ID] = rec
	}
	assert.Equal(t, "first", byID[id1].Name)
	assert.Equal(t, "second", byID[id2].Name)
	assert.Greater(t, byID[id1].SizeBytes, 0)
	assert.Equal(t, 0.5, byID[id1].Resolution)
}

// TestDeleteMap: удаление карты очищает данные и метаданные
func TestDeleteMap(t *testing.T) {
	store := setupTestStore(t)

	id, err := store.SaveMap("doomed", sampleMap(), nil)
	require.NoError(t, err)

	require.NoError(t, store.DeleteMap(id))

	_, err = store.LoadMap(id, nil, nil)
	assert.Error(t, err)

	records, err := store.ListMaps()
	require.NoError(t, err)
	assert.Empty(t, records)
}

// TestClosedStore: операции над закрытым хранилищем отвергаются
func TestClosedStore(t *testing.T) {
	store, err := NewMapStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = store.SaveMap("late", sampleMap(), nil)
	assert.Error(t, err)
}
