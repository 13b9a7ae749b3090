package heightmap

import (
	"fmt"

	"github.com/annel0/voxelmap/internal/vec"
)

// UpAxis идентифицирует вертикальную ось тепловой карты высот.
// Значения совпадают со схемой "ось со знаком": неотрицательные —
// положительные направления X/Y/Z, отрицательные — обратные.
type UpAxis int

const (
	// UpAxisNegZ — ось -Z
	UpAxisNegZ UpAxis = iota - 3
	// UpAxisNegY — ось -Y
	UpAxisNegY
	// UpAxisNegX — ось -X
	UpAxisNegX
	// UpAxisX — ось +X
	UpAxisX
	// UpAxisY — ось +Y
	UpAxisY
	// UpAxisZ — ось +Z
	UpAxisZ
)

// базисы осей: нормаль вверх и две оси поверхности.
// Для каждой тройки выполняется a × b == up (точно, не с точностью
// до знака).
var upAxisBases = map[UpAxis][3]vec.Vec3Float{
	UpAxisX:    {{X: 1}, {Y: 1}, {Z: 1}},
	UpAxisY:    {{Y: 1}, {X: 1}, {Z: -1}},
	UpAxisZ:    {{Z: 1}, {X: 1}, {Y: 1}},
	UpAxisNegX: {{X: -1}, {Z: 1}, {Y: 1}},
	UpAxisNegY: {{Y: -1}, {X: 1}, {Z: 1}},
	UpAxisNegZ: {{Z: -1}, {Y: 1}, {X: 1}},
}

// IsValid проверяет, что значение — одна из шести основных осей
func (a UpAxis) IsValid() bool {
	_, ok := upAxisBases[a]
	return ok
}

// Index возвращает индекс оси [0,2] (X,Y,Z), игнорируя знак
func (a UpAxis) Index() int {
	switch a {
	case UpAxisX, UpAxisNegX:
		return 0
	case UpAxisY, UpAxisNegY:
		return 1
	default:
		return 2
	}
}

// Sign возвращает направление оси: +1 или -1
func (a UpAxis) Sign() float64 {
	if a < 0 {
		return -1
	}
	return 1
}

// Normal возвращает единичную нормаль вертикальной оси
func (a UpAxis) Normal() vec.Vec3Float {
	return upAxisBases[a][0]
}

// SurfaceAxisA возвращает первую ось поверхности
func (a UpAxis) SurfaceAxisA() vec.Vec3Float {
	return upAxisBases[a][1]
}

// SurfaceAxisB возвращает вторую ось поверхности
func (a UpAxis) SurfaceAxisB() vec.Vec3Float {
	return upAxisBases[a][2]
}

// SurfaceIndexA возвращает индекс компоненты первой оси поверхности
func (a UpAxis) SurfaceIndexA() int {
	return axisComponentIndex(upAxisBases[a][1])
}

// SurfaceIndexB возвращает индекс компоненты второй оси поверхности
func (a UpAxis) SurfaceIndexB() int {
	return axisComponentIndex(upAxisBases[a][2])
}

// String возвращает имя оси
func (a UpAxis) String() string {
	switch a {
	case UpAxisX:
		return "x"
	case UpAxisY:
		return "y"
	case UpAxisZ:
		return "z"
	case UpAxisNegX:
		return "-x"
	case UpAxisNegY:
		return "-y"
	case UpAxisNegZ:
		return "-z"
	default:
		return "invalid"
	}
}

// ParseUpAxis разбирает имя оси: "x", "y", "z", "-x", "-y", "-z"
func ParseUpAxis(s string) (UpAxis, error) {
	switch s {
	case "x":
		return UpAxisX, nil
	case "y":
		return UpAxisY, nil
	case "z":
		return UpAxisZ, nil
	case "-x":
		return UpAxisNegX, nil
	case "-y":
		return UpAxisNegY, nil
	case "-z":
		return UpAxisNegZ, nil
	}
	return 0, fmt.Errorf("неизвестная вертикальная ось: %q", s)
}

// axisComponentIndex возвращает индекс ненулевой компоненты
func axisComponentIndex(v vec.Vec3Float) int {
	if v.X != 0 {
		return 0
	}
	if v.Y != 0 {
		return 1
	}
	return 2
}
