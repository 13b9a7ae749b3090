package heightmap

import (
	"errors"
	"time"

	"github.com/annel0/voxelmap/internal/logging"
	"github.com/annel0/voxelmap/internal/vec"
	"github.com/annel0/voxelmap/internal/voxel"
)

// DefaultRegionSize — размер региона тепловой карты высот по
// умолчанию (вокселей на ось поверхности; вдоль вертикальной оси
// регион всегда один воксель)
const DefaultRegionSize = 128

// Ключи метаданных, записываемых в тепловую карту высот
const (
	MetaHeightmap = "heightmap"
	MetaAxis      = "heightmap-axis"
	MetaAxisX     = "heightmap-axis-x"
	MetaAxisY     = "heightmap-axis-y"
	MetaAxisZ     = "heightmap-axis-z"
	MetaClearance = "heightmap-clearance"
	MetaBlur      = "heightmap-blur"
)

// Ошибки построения тепловой карты высот
var (
	// ErrNoSourceMap — источник занятости не задан
	ErrNoSourceMap = errors.New("источник занятости не задан")
	// ErrInvalidUpAxis — вертикальная ось не является одной из шести основных
	ErrInvalidUpAxis = errors.New("недопустимая вертикальная ось")
	// ErrInvalidParameters — параметры конструкции вне допустимых границ
	ErrInvalidParameters = errors.New("недопустимые параметры построения")
)

// Heightmap строит 2D тепловую карту высот из 3D вероятностной
// воксельной карты. Для каждой вертикальной колонки источника
// выбирается опорная поверхность — занятый воксель с достаточным
// просветом, ближайший к базовой высоте, — и её высота с просветом
// записываются в однослойную сетку.
//
// Сетка тепловой карты высот — воксельная карта с регионами R x R x 1
// вдоль вертикальной оси и двумя слоями: занятость (сигнальные
// значения поверхности) и записи HeightmapVoxel.
//
// Локальный кэш хранит недавний результат вокруг опорной позиции и
// латает колонки, для которых живой проход не нашёл поверхность.
type Heightmap struct {
	gridResolution float64
	minClearance   float64
	ceiling        float64
	upAxis         UpAxis
	regionSize     int

	ignoreSubVoxel         bool
	generateVirtualSurface bool
	useFloodFill           bool
	localCacheExtents      float64
	threadCount            int

	source *voxel.Map
	hm     *voxel.Map
	cache  *voxel.Map

	hmLayer int

	refPos vec.Vec3Float
	cull   voxel.AABB
}

// NewHeightmap создаёт тепловую карту высот. gridResolution — размер
// ячейки (для лучших результатов должен совпадать с разрешением
// источника); minClearance — минимальный просвет над опорным
// вокселем; regionSize <= 0 заменяется значением по умолчанию.
func NewHeightmap(gridResolution, minClearance float64, upAxis UpAxis, regionSize int) *Heightmap {
	if regionSize <= 0 {
		regionSize = DefaultRegionSize
	}
	h := &Heightmap{
		gridResolution: gridResolution,
		minClearance:   minClearance,
		upAxis:         upAxis,
		regionSize:     regionSize,
		threadCount:    1,
	}
	h.hm = h.newGrid()
	h.hmLayer = h.hm.Layout().LayerIndex(HeightmapLayerName)
	h.cache = h.newGrid()
	return h
}

// newGrid создаёт пустую однослойную сетку тепловой карты высот
func (h *Heightmap) newGrid() *voxel.Map {
	dims := vec.Vec3{X: h.regionSize, Y: h.regionSize, Z: h.regionSize}
	dims = dims.SetAxis(h.upAxis.Index(), 1)
	grid := voxel.NewMap(h.gridResolution, dims)
	if h.source != nil {
		grid.SetOrigin(h.source.Origin())
	}
	addHeightmapLayer(grid)
	return grid
}

// SetOccupancyMap задаёт источник занятости. Карта не копируется и
// должна жить до завершения BuildHeightmap; во время построения
// источник читается и не должен изменяться.
func (h *Heightmap) SetOccupancyMap(m *voxel.Map) {
	h.source = m
}

// OccupancyMap возвращает текущий источник занятости
func (h *Heightmap) OccupancyMap() *voxel.Map {
	return h.source
}

// HeightmapGrid возвращает построенную сетку тепловой карты высот
func (h *Heightmap) HeightmapGrid() *voxel.Map {
	return h.hm
}

// HeightmapLocalCache возвращает локальный кэш
func (h *Heightmap) HeightmapLocalCache() *voxel.Map {
	return h.cache
}

// UpAxis возвращает вертикальную ось
func (h *Heightmap) UpAxis() UpAxis {
	return h.upAxis
}

// GridResolution возвращает размер ячейки сетки
func (h *Heightmap) GridResolution() float64 {
	return h.gridResolution
}

// SetMinClearance задаёт минимальный просвет над опорным вокселем
func (h *Heightmap) SetMinClearance(clearance float64) {
	h.minClearance = clearance
}

// MinClearance возвращает минимальный просвет
func (h *Heightmap) MinClearance() float64 {
	return h.minClearance
}

// SetCeiling задаёт потолок: воксели выше этого расстояния над
// базовой высотой не становятся опорой. Просвет над опорой меряется
// без учёта потолка. Ноль отключает ограничение.
func (h *Heightmap) SetCeiling(ceiling float64) {
	h.ceiling = ceiling
}

// Ceiling возвращает потолок
func (h *Heightmap) Ceiling() float64 {
	return h.ceiling
}

// SetIgnoreSubVoxelPositioning включает принудительное использование
// центров вокселей даже при наличии субвоксельных центроидов
func (h *Heightmap) SetIgnoreSubVoxelPositioning(ignore bool) {
	h.ignoreSubVoxel = ignore
}

// IgnoreSubVoxelPositioning возвращает режим игнорирования
// субвоксельных центроидов
func (h *Heightmap) IgnoreSubVoxelPositioning() bool {
	return h.ignoreSubVoxel
}

// SetGenerateVirtualSurface включает генерацию виртуальных
// поверхностей на границе неизвестных и свободных вокселей
func (h *Heightmap) SetGenerateVirtualSurface(enable bool) {
	h.generateVirtualSurface = enable
}

// GenerateVirtualSurface возвращает режим виртуальных поверхностей
func (h *Heightmap) GenerateVirtualSurface() bool {
	return h.generateVirtualSurface
}

// SetUseFloodFill выбирает обходчик: затопление (true) или плоский (false)
func (h *Heightmap) SetUseFloodFill(floodFill bool) {
	h.useFloodFill = floodFill
}

// UseFloodFill возвращает выбранный обходчик
func (h *Heightmap) UseFloodFill() bool {
	return h.useFloodFill
}

// SetLocalCacheExtents задаёт полуразмер 2D области локального кэша.
// Ноль отключает кэширование, не удаляя сам кэш.
func (h *Heightmap) SetLocalCacheExtents(extents float64) {
	h.localCacheExtents = extents
}

// LocalCacheExtents возвращает полуразмер области локального кэша
func (h *Heightmap) LocalCacheExtents() float64 {
	return h.localCacheExtents
}

// SetThreadCount задаёт число рабочих горутин плоского обходчика:
// 1 — однопоточно (по умолчанию), 0 — все доступные ядра.
// На обходчик затоплением не влияет.
func (h *Heightmap) SetThreadCount(threads int) {
	if threads < 0 {
		threads = 1
	}
	h.threadCount = threads
}

// ThreadCount возвращает число рабочих горутин
func (h *Heightmap) ThreadCount() int {
	return h.threadCount
}

// Project приводит ключ к плоскости тепловой карты высот, обнуляя
// вертикальную компоненту. Идемпотентна. Возвращает тот же ключ.
func (h *Heightmap) Project(key *voxel.Key) *voxel.Key {
	upIdx := h.upAxis.Index()
	key.Region = key.Region.SetAxis(upIdx, 0)
	key.Local = key.Local.SetAxis(upIdx, 0)
	return key
}

// UpdateMapInfo записывает метаданные построения в хранилище info
func (h *Heightmap) UpdateMapInfo(info *voxel.MapInfo) {
	normal := h.upAxis.Normal()
	info.Set(MetaHeightmap, true)
	info.Set(MetaAxis, int(h.upAxis))
	info.Set(MetaAxisX, normal.X)
	info.Set(MetaAxisY, normal.Y)
	info.Set(MetaAxisZ, normal.Z)
	info.Set(MetaClearance, h.minClearance)
	info.Set(MetaBlur, 0.0)
}

// SeedLocalCache засевает локальный кэш из текущей тепловой карты
// высот вокруг опорной позиции
func (h *Heightmap) SeedLocalCache(refPos vec.Vec3Float) {
	h.cache = h.rebuildCache(h.hm, refPos)
}

// updateLocalCache перестраивает кэш из свежей тепловой карты высот
func (h *Heightmap) updateLocalCache(refPos vec.Vec3Float) {
	h.cache = h.rebuildCache(h.hm, refPos)
}

// rebuildCache строит новый кэш, копируя непустые ячейки сетки grid в
// 2D квадрате с полуразмером localCacheExtents вокруг refPos. Ячейки
// за пределами квадрата не переносятся.
func (h *Heightmap) rebuildCache(grid *voxel.Map, refPos vec.Vec3Float) *voxel.Map {
	fresh := h.newGrid()
	fresh.SetOrigin(grid.Origin())
	if h.localCacheExtents <= 0 {
		return fresh
	}

	axisA := h.upAxis.SurfaceIndexA()
	axisB := h.upAxis.SurfaceIndexB()
	layer := grid.Layout().LayerIndex(HeightmapLayerName)
	freshLayer := fresh.Layout().LayerIndex(HeightmapLayerName)

	// Ячейка принадлежит квадрату, если её центр внутри
	half := grid.Resolution() / 2
	loA := grid.GlobalIndex(axisA, refPos.Axis(axisA)-h.localCacheExtents+half)
	hiA := grid.GlobalIndex(axisA, refPos.Axis(axisA)+h.localCacheExtents-half)
	loB := grid.GlobalIndex(axisB, refPos.Axis(axisB)-h.localCacheExtents+half)
	hiB := grid.GlobalIndex(axisB, refPos.Axis(axisB)+h.localCacheExtents-half)

	for ib := loB; ib <= hiB; ib++ {
		for ia := loA; ia <= hiA; ia++ {
			var idx vec.Vec3
			idx = idx.SetAxis(axisA, ia)
			idx = idx.SetAxis(axisB, ib)
			key := grid.KeyForIndex(idx)
			h.Project(&key)

			occ := grid.Occupancy(key)
			if occ == voxel.UnobservedValue || isVacant(occ) {
				continue
			}
			var hv HeightmapVoxel
			if !grid.ReadLayer(key, layer, func(cell []byte) {
				hv = decodeHeightmapVoxel(cell)
			}) {
				continue
			}
			freshKey := fresh.KeyForIndex(idx)
			h.Project(&freshKey)
			fresh.SetOccupancy(freshKey, occ)
			fresh.WriteLayer(freshKey, freshLayer, hv.encode)
		}
	}
	return fresh
}

// BuildHeightmap строит тепловую карту высот вокруг опорной позиции.
// cull ограничивает область источника; незаданный бокс означает
// отсутствие ограничения. Вертикальная ось неизменна до завершения.
//
// При фатальной ошибке сетка остаётся в очищенном состоянии;
// колонки без поверхности ошибкой не считаются и записываются
// пустыми.
func (h *Heightmap) BuildHeightmap(refPos vec.Vec3Float, cull voxel.AABB) error {
	if h.source == nil {
		h.hm.Clear()
		return ErrNoSourceMap
	}
	if !h.upAxis.IsValid() {
		h.hm.Clear()
		return ErrInvalidUpAxis
	}
	if h.minClearance < 0 || h.ceiling < 0 || h.regionSize <= 0 || h.gridResolution <= 0 {
		h.hm.Clear()
		return ErrInvalidParameters
	}

	start := time.Now()

	h.hm.Clear()
	h.hm.SetOrigin(h.source.Origin())
	h.refPos = refPos
	h.cull = cull
	h.UpdateMapInfo(h.hm.Info())

	// Снимок кэша предыдущего построения: во время прохода он
	// только читается
	ctx := h.newBuildContext(refPos, cull)

	if h.useFloodFill {
		h.buildFloodFill(ctx)
	} else {
		h.buildPlanar(ctx)
	}

	h.updateLocalCache(refPos)

	logging.Debug("🗺️ Тепловая карта высот построена за %v (ось=%s, затопление=%v)",
		time.Since(start), h.upAxis, h.useFloodFill)
	return nil
}

// GetHeightmapVoxelPosition восстанавливает мировую позицию ячейки
// тепловой карты высот (из живой сетки либо из локального кэша).
// Возвращает позицию, просвет и признак занятости ячейки (реальная
// или виртуальная поверхность).
func (h *Heightmap) GetHeightmapVoxelPosition(grid *voxel.Map, key voxel.Key) (vec.Vec3Float, float32, bool) {
	return h.voxelPosition(grid, key, vec.Vec3Float{}, 0)
}

// GetHeightmapVoxelPositionNear — вариант с опорной позицией и
// радиусом отрицательных препятствий. Виртуальные и пустые ячейки в
// пределах радиуса получают высоту нисходящей параболы
// ref.up - (r^2 - d^2)/r, порождающую сигнал уклона для последующей
// оценки проходимости; такие ячейки считаются значимыми.
func (h *Heightmap) GetHeightmapVoxelPositionNear(grid *voxel.Map, key voxel.Key, refPos vec.Vec3Float, negObstacleRadius float64) (vec.Vec3Float, float32, bool) {
	return h.voxelPosition(grid, key, refPos, negObstacleRadius)
}

// voxelPosition — общий путь восстановления позиции ячейки
func (h *Heightmap) voxelPosition(grid *voxel.Map, key voxel.Key, refPos vec.Vec3Float, negObstacleRadius float64) (vec.Vec3Float, float32, bool) {
	upIdx := h.upAxis.Index()
	sign := h.upAxis.Sign()
	axisA := h.upAxis.SurfaceIndexA()
	axisB := h.upAxis.SurfaceIndexB()

	h.Project(&key)
	occ := grid.Occupancy(key)
	var hv HeightmapVoxel
	layer := grid.Layout().LayerIndex(HeightmapLayerName)
	grid.ReadLayer(key, layer, func(cell []byte) {
		hv = decodeHeightmapVoxel(cell)
	})

	centre := grid.VoxelCentre(key)
	pos := centre.SetAxis(upIdx, sign*hv.Height)

	vacant := occ == voxel.UnobservedValue || isVacant(occ)
	if vacant && negObstacleRadius <= 0 {
		return pos, 0, false
	}

	if negObstacleRadius > 0 && (vacant || isVirtualSurface(occ)) {
		da := centre.Axis(axisA) - refPos.Axis(axisA)
		db := centre.Axis(axisB) - refPos.Axis(axisB)
		d2 := da*da + db*db
		r := negObstacleRadius
		if d2 < r*r {
			refHeight := sign * refPos.Axis(upIdx)
			height := refHeight - (r*r-d2)/r
			return centre.SetAxis(upIdx, sign*height), hv.Clearance, true
		}
		if vacant {
			return pos, 0, false
		}
	}

	return pos, hv.Clearance, true
}
