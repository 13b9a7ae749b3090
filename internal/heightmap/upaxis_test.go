package heightmap

import (
	"testing"

	"github.com/annel0/voxelmap/internal/vec"
)

var allAxes = []UpAxis{UpAxisX, UpAxisY, UpAxisZ, UpAxisNegX, UpAxisNegY, UpAxisNegZ}

// TestUpAxisBasis: базис каждой оси правосторонний: a x b == up,
// все векторы единичные
func TestUpAxisBasis(t *testing.T) {
	for _, axis := range allAxes {
		up := axis.Normal()
		a := axis.SurfaceAxisA()
		b := axis.SurfaceAxisB()

		if cross := a.Cross(b); cross != up {
			t.Errorf("Ось %s: a x b = %v, ожидалось %v", axis, cross, up)
		}
		for _, v := range []vec.Vec3Float{up, a, b} {
			if v.Length() != 1.0 {
				t.Errorf("Ось %s: вектор %v не единичный", axis, v)
			}
		}
	}
}

// TestUpAxisIndex: индекс оси игнорирует знак
func TestUpAxisIndex(t *testing.T) {
	cases := map[UpAxis]int{
		UpAxisX: 0, UpAxisNegX: 0,
		UpAxisY: 1, UpAxisNegY: 1,
		UpAxisZ: 2, UpAxisNegZ: 2,
	}
	for axis, want := range cases {
		if got := axis.Index(); got != want {
			t.Errorf("Ось %s: индекс %d, ожидалось %d", axis, got, want)
		}
	}
}

// TestUpAxisSign: направление оси
func TestUpAxisSign(t *testing.T) {
	for _, axis := range []UpAxis{UpAxisX, UpAxisY, UpAxisZ} {
		if axis.Sign() != 1 {
			t.Errorf("Ось %s: ожидался знак +1", axis)
		}
	}
	for _, axis := range []UpAxis{UpAxisNegX, UpAxisNegY, UpAxisNegZ} {
		if axis.Sign() != -1 {
			t.Errorf("Ось %s: ожидался знак -1", axis)
		}
	}
}

// TestUpAxisValidity: только шесть основных осей допустимы
func TestUpAxisValidity(t *testing.T) {
	for _, axis := range allAxes {
		if !axis.IsValid() {
			t.Errorf("Ось %s должна быть допустимой", axis)
		}
	}
	for _, axis := range []UpAxis{UpAxis(3), UpAxis(-4), UpAxis(100)} {
		if axis.IsValid() {
			t.Errorf("Значение %d не должно быть допустимой осью", int(axis))
		}
	}
}

// TestParseUpAxis: разбор имён осей
func TestParseUpAxis(t *testing.T) {
	cases := map[string]UpAxis{
		"x": UpAxisX, "y": UpAxisY, "z": UpAxisZ,
		"-x": UpAxisNegX, "-y": UpAxisNegY, "-z": UpAxisNegZ,
	}
	for name, want := range cases {
		got, err := ParseUpAxis(name)
		if err != nil || got != want {
			t.Errorf("ParseUpAxis(%q) = %v, %v; ожидалось %v", name, got, err, want)
		}
	}
	if _, err := ParseUpAxis("w"); err == nil {
		t.Error("Ожидалась ошибка для неизвестной оси")
	}
}
