package hmimage

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/annel0/voxelmap/internal/heightmap"
	"github.com/annel0/voxelmap/internal/vec"
	"github.com/annel0/voxelmap/internal/voxel"
)

// ImageMode определяет вид экспортируемого изображения
type ImageMode int

const (
	// ModeHeights — высоты в градациях серого
	ModeHeights ImageMode = iota
	// ModeNormals — нормали поверхности в RGB
	ModeNormals
	// ModeTraversability — раскраска по предельному углу уклона
	ModeTraversability
)

// Options задаёт параметры рендеринга
type Options struct {
	Mode ImageMode
	// TraverseAngle — предельный угол уклона в градусах
	// (для ModeTraversability)
	TraverseAngle float64
	// Bits — глубина серого для ModeHeights: 8 или 16
	Bits int
}

// cellSample — прочитанная ячейка тепловой карты высот
type cellSample struct {
	occupancy float32
	height    float64
	valid     bool
}

// Render строит изображение из тепловой карты высот. Изображение
// ориентировано так, что ось B растёт вверх.
func Render(h *heightmap.Heightmap, opts Options) (image.Image, error) {
	grid := h.HeightmapGrid()
	ext := grid.Extents()
	if ext.IsEmpty() {
		return nil, fmt.Errorf("тепловая карта высот пуста")
	}

	axisA := h.UpAxis().SurfaceIndexA()
	axisB := h.UpAxis().SurfaceIndexB()
	res := grid.Resolution()
	half := res / 2

	loA := grid.GlobalIndex(axisA, ext.Min.Axis(axisA)+half)
	hiA := grid.GlobalIndex(axisA, ext.Max.Axis(axisA)-half)
	loB := grid.GlobalIndex(axisB, ext.Min.Axis(axisB)+half)
	hiB := grid.GlobalIndex(axisB, ext.Max.Axis(axisB)-half)

	width := hiA - loA + 1
	height := hiB - loB + 1
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("пустая область тепловой карты высот")
	}

	// Снимок ячеек и диапазон высот. Ось B растёт вверх, строки
	// изображения — вниз, поэтому строки записываются в обратном
	// порядке.
	cells := make([]cellSample, width*height)
	minH, maxH := math.Inf(1), math.Inf(-1)
	layer := grid.Layout().LayerIndex(heightmap.HeightmapLayerName)
	for ib := loB; ib <= hiB; ib++ {
		for ia := loA; ia <= hiA; ia++ {
			var idx vec.Vec3
			idx = idx.SetAxis(axisA, ia)
			idx = idx.SetAxis(axisB, ib)
			key := grid.KeyForIndex(idx)
			h.Project(&key)

			occ := grid.Occupancy(key)
			sample := cellSample{occupancy: occ}
			if occ != voxel.UnobservedValue && occ != 0 {
				grid.ReadLayer(key, layer, func(cell []byte) {
					sample.height = math.Float64frombits(binary.LittleEndian.Uint64(cell))
					sample.valid = true
				})
			}
			if sample.valid {
				minH = math.Min(minH, sample.height)
				maxH = math.Max(maxH, sample.height)
			}
			cells[(hiB-ib)*width+(ia-loA)] = sample
		}
	}

	switch opts.Mode {
	case ModeHeights:
		return renderHeights(cells, width, height, minH, maxH, opts.Bits), nil
	case ModeNormals:
		return renderNormals(cells, width, height, res), nil
	case ModeTraversability:
		return renderTraversability(cells, width, height, res, opts.TraverseAngle), nil
	default:
		return nil, fmt.Errorf("неизвестный режим изображения: %d", opts.Mode)
	}
}

// renderHeights — высоты в градациях серого
func renderHeights(cells []cellSample, width, height int, minH, maxH float64, bits int) image.Image {
	span := maxH - minH
	if span <= 0 {
		span = 1
	}

	if bits == 16 {
		img := image.NewGray16(image.Rect(0, 0, width, height))
		for i, c := range cells {
			if !c.valid {
				continue
			}
			v := uint16((c.height - minH) / span * float64(0xffff))
			img.SetGray16(i%width, i/width, color.Gray16{Y: v})
		}
		return img
	}

	img := image.NewGray(image.Rect(0, 0, width, height))
	for i, c := range cells {
		if !c.valid {
			continue
		}
		v := uint8((c.height - minH) / span * float64(0xff))
		img.SetGray(i%width, i/width, color.Gray{Y: v})
	}
	return img
}

// renderNormals — нормали поверхности, закодированные в RGB
func renderNormals(cells []cellSample, width, height int, res float64) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := cells[y*width+x]
			if !c.valid {
				continue
			}
			nx, ny, nz := cellNormal(cells, width, height, x, y, res)
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8((nx*0.5 + 0.5) * 255),
				G: uint8((ny*0.5 + 0.5) * 255),
				B: uint8((nz*0.5 + 0.5) * 255),
				A: 255,
			})
		}
	}
	return img
}

// renderTraversability — зелёный для проходимых уклонов, плавно к
// красному у предельного угла и выше; виртуальные поверхности
// приглушаются
func renderTraversability(cells []cellSample, width, height int, res, traverseAngle float64) image.Image {
	if traverseAngle <= 0 {
		traverseAngle = 45
	}
	limit := traverseAngle * math.Pi / 180

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := cells[y*width+x]
			if !c.valid {
				continue
			}
			_, _, nz := cellNormal(cells, width, height, x, y, res)
			slope := math.Acos(math.Min(1, math.Max(-1, nz)))

			// Оттенок: 120° (зелёный) на нуле уклона, 0° (красный)
			// на пределе и выше
			t := math.Min(1, slope/limit)
			col := colorful.Hsv(120*(1-t), 1, 1)
			if c.occupancy < 0 {
				// Виртуальная поверхность: приглушаем насыщенность
				col = colorful.Hsv(120*(1-t), 0.35, 0.9)
			}
			r, g, b := col.RGB255()
			img.SetNRGBA(x, y, color.NRGBA{R: r, G: g, B: b, A: 255})
		}
	}
	return img
}

// cellNormal оценивает нормаль ячейки центральными разностями высот
// соседей. Компоненты возвращаются в осях (a, b, up).
func cellNormal(cells []cellSample, width, height, x, y int, res float64) (nx, ny, nz float64) {
	at := func(cx, cy int) (float64, bool) {
		if cx < 0 || cx >= width || cy < 0 || cy >= height {
			return 0, false
		}
		c := cells[cy*width+cx]
		return c.height, c.valid
	}

	centre, _ := at(x, y)
	sample := func(cx, cy int) float64 {
		if h, ok := at(cx, cy); ok {
			return h
		}
		return centre
	}

	dx := (sample(x+1, y) - sample(x-1, y)) / (2 * res)
	// Строки изображения идут против оси B
	dy := (sample(x, y-1) - sample(x, y+1)) / (2 * res)

	// Нормаль плоскости высот с градиентом (dx, dy)
	nx, ny, nz = -dx, -dy, 1
	length := math.Sqrt(nx*nx + ny*ny + nz*nz)
	return nx / length, ny / length, nz / length
}
