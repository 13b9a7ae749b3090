package voxel

import (
	"fmt"

	"github.com/annel0/voxelmap/internal/vec"
)

// Key адресует один воксель в карте: ключ региона плюс локальные
// координаты вокселя внутри региона. Локальные координаты всегда
// лежат в диапазоне [0, regionDims) по каждой оси.
type Key struct {
	Region vec.Vec3
	Local  vec.Vec3
}

// Equals проверяет равенство ключей
func (k Key) Equals(other Key) bool {
	return k.Region.Equals(other.Region) && k.Local.Equals(other.Local)
}

// String возвращает строковое представление ключа (для логов и отладки)
func (k Key) String() string {
	return fmt.Sprintf("R(%d,%d,%d)L(%d,%d,%d)",
		k.Region.X, k.Region.Y, k.Region.Z,
		k.Local.X, k.Local.Y, k.Local.Z)
}

// AxisIndex возвращает глобальный индекс вокселя вдоль одной оси.
// Регион и локальная координата сворачиваются в один счётчик,
// что позволяет сравнивать ключи вдоль оси без плавающей точки.
func (k Key) AxisIndex(axis int, regionDims vec.Vec3) int {
	return k.Region.Axis(axis)*regionDims.Axis(axis) + k.Local.Axis(axis)
}
