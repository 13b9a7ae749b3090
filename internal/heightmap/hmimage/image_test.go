package hmimage

import (
	"image"
	"testing"

	"github.com/annel0/voxelmap/internal/heightmap"
	"github.com/annel0/voxelmap/internal/vec"
	"github.com/annel0/voxelmap/internal/voxel"
)

// buildTestHeightmap строит тепловую карту высот наклонного пола
func buildTestHeightmap(t *testing.T) *heightmap.Heightmap {
	t.Helper()
	src := voxel.NewMap(1.0, vec.Vec3{X: 8, Y: 8, Z: 8})
	src.SetOrigin(vec.Vec3Float{X: -0.5, Y: -0.5, Z: -0.5})

	// Пол поднимается вдоль X: z = x/2
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			floor := x / 2
			for z := 0; z <= floor; z++ {
				src.SetOccupancy(src.KeyForIndex(vec.Vec3{X: x, Y: y, Z: z}), 1.0)
			}
			for z := floor + 1; z < 8; z++ {
				src.SetOccupancy(src.KeyForIndex(vec.Vec3{X: x, Y: y, Z: z}), -1.0)
			}
		}
	}

	h := heightmap.NewHeightmap(1.0, 0.5, heightmap.UpAxisZ, 8)
	h.SetOccupancyMap(src)
	if err := h.BuildHeightmap(vec.Vec3Float{X: 4, Y: 4, Z: 4}, voxel.NullAABB()); err != nil {
		t.Fatalf("Ошибка построения: %v", err)
	}
	return h
}

// TestRenderHeights: градации серого растут вдоль подъёма пола
func TestRenderHeights(t *testing.T) {
	h := buildTestHeightmap(t)

	img, err := Render(h, Options{Mode: ModeHeights, Bits: 8})
	if err != nil {
		t.Fatalf("Ошибка рендеринга: %v", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() != 8 || bounds.Dy() != 8 {
		t.Fatalf("Ожидалось изображение 8x8, получено %dx%d", bounds.Dx(), bounds.Dy())
	}

	// Яркость монотонно не убывает вдоль X
	prev := uint32(0)
	for x := 0; x < 8; x++ {
		r, _, _, _ := img.At(x, 4).RGBA()
		if r < prev {
			t.Errorf("Яркость должна расти вдоль подъёма: x=%d, %d < %d", x, r, prev)
		}
		prev = r
	}
}

// TestRenderHeights16: 16-битный режим даёт Gray16, а не 8-битный NRGBA
func TestRenderHeights16(t *testing.T) {
	h := buildTestHeightmap(t)

	img, err := Render(h, Options{Mode: ModeHeights, Bits: 16})
	if err != nil {
		t.Fatalf("Ошибка рендеринга: %v", err)
	}
	if _, ok := img.(*image.NRGBA); ok {
		t.Error("Для 16-битного серого ожидался Gray16, а не NRGBA")
	}
}

// TestRenderNormals: плоские участки дают нормаль, направленную вверх
func TestRenderNormals(t *testing.T) {
	h := buildTestHeightmap(t)

	img, err := Render(h, Options{Mode: ModeNormals})
	if err != nil {
		t.Fatalf("Ошибка рендеринга: %v", err)
	}

	// Столбец x=0 — край ровной пары (пол z=0, сосед x=1 той же
	// высоты): нормаль ~ (0,0,1)
	_, _, b, _ := img.At(0, 4).RGBA()
	if b>>8 < 200 {
		t.Errorf("Компонента B нормали плоского участка должна быть большой, получено %d", b>>8)
	}
}

// TestRenderTraversability: изображение строится и имеет полную
// непрозрачность на заполненных ячейках
func TestRenderTraversability(t *testing.T) {
	h := buildTestHeightmap(t)

	img, err := Render(h, Options{Mode: ModeTraversability, TraverseAngle: 30})
	if err != nil {
		t.Fatalf("Ошибка рендеринга: %v", err)
	}
	_, _, _, a := img.At(4, 4).RGBA()
	if a != 0xffff {
		t.Errorf("Заполненная ячейка должна быть непрозрачной, получено %d", a)
	}
}

// TestRenderEmpty: пустая тепловая карта высот отвергается
func TestRenderEmpty(t *testing.T) {
	h := heightmap.NewHeightmap(1.0, 0.5, heightmap.UpAxisZ, 8)
	if _, err := Render(h, Options{Mode: ModeHeights}); err == nil {
		t.Error("Ожидалась ошибка для пустой карты")
	}
}
