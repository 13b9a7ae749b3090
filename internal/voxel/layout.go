package voxel

import "github.com/annel0/voxelmap/internal/vec"

// Имена стандартных слоёв карты
const (
	LayerOccupancy = "occupancy"
	LayerMean      = "mean"
)

// MapLayer описывает один слой данных карты: имя и размер записи
// на воксель в байтах. Данные слоя хранятся в VoxelBlock поригионно.
type MapLayer struct {
	name          string
	voxelByteSize int
}

// Name возвращает имя слоя
func (l *MapLayer) Name() string {
	return l.name
}

// VoxelByteSize возвращает размер записи слоя на один воксель
func (l *MapLayer) VoxelByteSize() int {
	return l.voxelByteSize
}

// LayerByteSize возвращает полный размер слоя для региона указанных
// размеров. Это размер одного VoxelBlock данного слоя.
func (l *MapLayer) LayerByteSize(regionDims vec.Vec3) int {
	return l.voxelByteSize * regionDims.X * regionDims.Y * regionDims.Z
}

// MapLayout описывает набор слоёв карты. Раскладка фиксируется до
// создания первого региона: добавление слоя в заполненную карту
// не поддерживается.
type MapLayout struct {
	layers []*MapLayer
}

// NewMapLayout создаёт раскладку с единственным слоем занятости
func NewMapLayout() *MapLayout {
	layout := &MapLayout{}
	layout.AddLayer(LayerOccupancy, 4) // float32 лог-оддс занятости
	return layout
}

// AddLayer добавляет слой и возвращает его индекс
func (ml *MapLayout) AddLayer(name string, voxelByteSize int) int {
	ml.layers = append(ml.layers, &MapLayer{name: name, voxelByteSize: voxelByteSize})
	return len(ml.layers) - 1
}

// Layer возвращает слой по индексу или nil
func (ml *MapLayout) Layer(index int) *MapLayer {
	if index < 0 || index >= len(ml.layers) {
		return nil
	}
	return ml.layers[index]
}

// LayerIndex возвращает индекс слоя по имени или -1
func (ml *MapLayout) LayerIndex(name string) int {
	for i, l := range ml.layers {
		if l.name == name {
			return i
		}
	}
	return -1
}

// LayerCount возвращает количество слоёв
func (ml *MapLayout) LayerCount() int {
	return len(ml.layers)
}

// OccupancyLayer возвращает индекс слоя занятости
func (ml *MapLayout) OccupancyLayer() int {
	return ml.LayerIndex(LayerOccupancy)
}

// MeanLayer возвращает индекс слоя субвоксельных центроидов или -1
func (ml *MapLayout) MeanLayer() int {
	return ml.LayerIndex(LayerMean)
}
