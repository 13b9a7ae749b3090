package voxel

import "github.com/annel0/voxelmap/internal/vec"

// AABB представляет выровненный по осям ограничивающий бокс в мировых
// координатах. Нулевое значение (Min == Max == 0) трактуется как
// "бокс не задан" — ограничение отсутствует. Бокс с Min > Max по любой
// оси не содержит ни одной точки.
type AABB struct {
	Min vec.Vec3Float
	Max vec.Vec3Float
}

// NullAABB возвращает незаданный бокс (ограничение отсутствует)
func NullAABB() AABB {
	return AABB{}
}

// EmptyAABB возвращает бокс, не содержащий ни одной точки
func EmptyAABB() AABB {
	return AABB{
		Min: vec.Vec3Float{X: 1, Y: 1, Z: 1},
		Max: vec.Vec3Float{X: -1, Y: -1, Z: -1},
	}
}

// IsNull сообщает, что бокс не задан
func (a AABB) IsNull() bool {
	return a.Min == (vec.Vec3Float{}) && a.Max == (vec.Vec3Float{})
}

// IsEmpty сообщает, что бокс не содержит ни одной точки
func (a AABB) IsEmpty() bool {
	return a.Min.X > a.Max.X || a.Min.Y > a.Max.Y || a.Min.Z > a.Max.Z
}

// Contains проверяет принадлежность точки боксу.
// Незаданный бокс содержит любую точку.
func (a AABB) Contains(p vec.Vec3Float) bool {
	if a.IsNull() {
		return true
	}
	return p.X >= a.Min.X && p.X <= a.Max.X &&
		p.Y >= a.Min.Y && p.Y <= a.Max.Y &&
		p.Z >= a.Min.Z && p.Z <= a.Max.Z
}

// Intersect возвращает пересечение двух боксов. Незаданный бокс
// нейтрален относительно пересечения.
func (a AABB) Intersect(other AABB) AABB {
	if a.IsNull() {
		return other
	}
	if other.IsNull() {
		return a
	}
	out := AABB{Min: a.Min, Max: a.Max}
	for axis := 0; axis < 3; axis++ {
		if other.Min.Axis(axis) > out.Min.Axis(axis) {
			out.Min = out.Min.SetAxis(axis, other.Min.Axis(axis))
		}
		if other.Max.Axis(axis) < out.Max.Axis(axis) {
			out.Max = out.Max.SetAxis(axis, other.Max.Axis(axis))
		}
	}
	return out
}

// Expand возвращает бокс, расширенный до включения точки p
func (a AABB) Expand(p vec.Vec3Float) AABB {
	if a.IsNull() || a.IsEmpty() {
		return AABB{Min: p, Max: p}
	}
	for axis := 0; axis < 3; axis++ {
		if p.Axis(axis) < a.Min.Axis(axis) {
			a.Min = a.Min.SetAxis(axis, p.Axis(axis))
		}
		if p.Axis(axis) > a.Max.Axis(axis) {
			a.Max = a.Max.SetAxis(axis, p.Axis(axis))
		}
	}
	return a
}
