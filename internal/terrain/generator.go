package terrain

import (
	"github.com/aquilax/go-perlin"

	"github.com/annel0/voxelmap/internal/vec"
	"github.com/annel0/voxelmap/internal/voxel"
)

// Лог-оддс значения занятости для синтетических карт
const (
	hitValue  float32 = 2.0
	missValue float32 = -2.0
)

// Generator заполняет воксельные карты синтетическим рельефом из
// шума Перлина. Используется для подготовки демонстрационных данных
// и тестовых фикстур.
type Generator struct {
	noise *perlin.Perlin
	seed  int64
}

// NewGenerator создаёт генератор рельефа с указанным сидом
func NewGenerator(seed int64) *Generator {
	alpha := 2.0  // Сглаживание шума
	beta := 2.0   // Частота шума
	n := int32(3) // Количество октав
	return &Generator{
		noise: perlin.NewPerlin(alpha, beta, n, seed),
		seed:  seed,
	}
}

// heightAt возвращает высоту рельефа в колонке (от 0 до heightScale)
func (g *Generator) heightAt(x, y int, scale, heightScale float64) float64 {
	// Значение шума от -1 до 1 преобразуется в диапазон от 0 до 1
	noise := g.noise.Noise2D(float64(x)*scale, float64(y)*scale)
	return (noise + 1.0) / 2.0 * heightScale
}

// Populate заполняет карту рельефом размером sizeX x sizeY колонок.
// В каждой колонке воксели до высоты рельефа занятые, выше — свободные
// до observedHeight. Воксели выше observedHeight остаются
// ненаблюдавшимися, что даёт естественные неизвестные области.
func (g *Generator) Populate(m *voxel.Map, sizeX, sizeY int, heightScale, observedHeight float64) {
	res := m.Resolution()
	noiseScale := 0.05

	for y := 0; y < sizeY; y++ {
		for x := 0; x < sizeX; x++ {
			floor := g.heightAt(x, y, noiseScale, heightScale)
			floorIdx := int(floor / res)
			topIdx := int(observedHeight / res)

			for z := 0; z <= topIdx; z++ {
				key := m.KeyForIndex(vec.Vec3{X: x, Y: y, Z: z})
				if z <= floorIdx {
					m.SetOccupancy(key, hitValue)
				} else {
					m.SetOccupancy(key, missValue)
				}
				if m.HasVoxelMean() && z == floorIdx {
					// Центроид пола ставится на отметку рельефа
					// внутри вокселя
					pos := m.VoxelCentre(key)
					pos.Z = floor
					m.SetVoxelPosition(key, pos)
				}
			}
		}
	}
}
