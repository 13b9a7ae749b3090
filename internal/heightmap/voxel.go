package heightmap

import (
	"encoding/binary"
	"math"

	"github.com/annel0/voxelmap/internal/voxel"
)

// Имя слоя тепловой карты высот в раскладке карты
const HeightmapLayerName = "heightmap"

// Размер записи HeightmapVoxel в байтах: float64 высота + float32 просвет
const heightmapVoxelByteSize = 12

// Сигнальные значения занятости ячеек тепловой карты высот.
// Значения побитово стабильны и записываются в слой занятости.
const (
	// SurfaceValue — реальная поверхность (занятый опорный воксель)
	SurfaceValue float32 = 1.0
	// VirtualSurfaceValue — виртуальная поверхность (свободный
	// воксель над неизвестным)
	VirtualSurfaceValue float32 = -1.0
	// VacantValue — пустая колонка (решение не принято)
	VacantValue float32 = 0.0
)

// HeightmapVoxel — запись ячейки тепловой карты высот.
// Height — абсолютная позиция опорной поверхности вдоль вертикальной
// оси; знак отражает выбранное направление. Clearance — свободное
// пространство над поверхностью; 0 означает "нет информации" — либо
// препятствий в диапазоне поиска не нашлось, либо поверхность
// виртуальная.
type HeightmapVoxel struct {
	Height    float64
	Clearance float32
}

// encode сериализует запись в байты слоя
func (v HeightmapVoxel) encode(cell []byte) {
	binary.LittleEndian.PutUint64(cell, math.Float64bits(v.Height))
	binary.LittleEndian.PutUint32(cell[8:], math.Float32bits(v.Clearance))
}

// decodeHeightmapVoxel читает запись из байтов слоя
func decodeHeightmapVoxel(cell []byte) HeightmapVoxel {
	return HeightmapVoxel{
		Height:    math.Float64frombits(binary.LittleEndian.Uint64(cell)),
		Clearance: math.Float32frombits(binary.LittleEndian.Uint32(cell[8:])),
	}
}

// addHeightmapLayer добавляет слой тепловой карты высот в раскладку
// карты и возвращает его индекс
func addHeightmapLayer(m *voxel.Map) int {
	if idx := m.Layout().LayerIndex(HeightmapLayerName); idx >= 0 {
		return idx
	}
	return m.Layout().AddLayer(HeightmapLayerName, heightmapVoxelByteSize)
}

// isSurface проверяет сигнальное значение реальной поверхности
func isSurface(occupancy float32) bool {
	return occupancy == SurfaceValue
}

// isVirtualSurface проверяет сигнальное значение виртуальной поверхности
func isVirtualSurface(occupancy float32) bool {
	return occupancy == VirtualSurfaceValue
}

// isVacant — колонка без решения: явный VacantValue либо
// ненаблюдавшаяся ячейка
func isVacant(occupancy float32) bool {
	return !isSurface(occupancy) && !isVirtualSurface(occupancy)
}
