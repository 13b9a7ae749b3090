package heightmap

import (
	"math"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/annel0/voxelmap/internal/vec"
	"github.com/annel0/voxelmap/internal/voxel"
)

// buildContext — контекст одного построения тепловой карты высот.
// Передаётся явно в выбор колонки и обходчики; все ссылки внутри
// живут только на время вызова BuildHeightmap.
type buildContext struct {
	src   *voxel.Map
	upIdx int
	axisA int
	axisB int
	sign  float64

	// Диапазон колонок в глобальных индексах источника
	loA, hiA int
	loB, hiB int

	// Вертикальный диапазон поиска; может отсутствовать, если
	// ограничивающий бокс не пересекается с картой
	loUp, hiUp  int
	hasVertical bool

	refPos    vec.Vec3Float
	refHeight float64

	// Снимок локального кэша предыдущего построения (только чтение)
	prevCache *voxel.Map
}

// newBuildContext вычисляет область обхода: пересечение границ
// источника, ограничивающего бокса и сетки тепловой карты высот
func (h *Heightmap) newBuildContext(refPos vec.Vec3Float, cull voxel.AABB) *buildContext {
	src := h.source
	ctx := &buildContext{
		src:       src,
		upIdx:     h.upAxis.Index(),
		axisA:     h.upAxis.SurfaceIndexA(),
		axisB:     h.upAxis.SurfaceIndexB(),
		sign:      h.upAxis.Sign(),
		refPos:    refPos,
		prevCache: h.cache,
	}
	ctx.refHeight = ctx.sign * refPos.Axis(ctx.upIdx)

	ext := src.Extents()
	if ext.IsEmpty() {
		ctx.loA, ctx.hiA = 0, -1
		ctx.loB, ctx.hiB = 0, -1
		return ctx
	}

	res := src.Resolution()
	half := res / 2

	// 2D область колонок: границы источника, сжатые боксом (если он
	// задан и не пуст). Пустой бокс оставляет область колонок полной,
	// но лишает их вертикального диапазона: каждая колонка посещается
	// и завершается неудачей.
	planar := ext
	vertical := ext
	if !cull.IsNull() {
		vertical = ext.Intersect(cull)
		if !cull.IsEmpty() {
			planar = ext.Intersect(cull)
		}
	}

	ctx.loA = src.GlobalIndex(ctx.axisA, planar.Min.Axis(ctx.axisA)+half)
	ctx.hiA = src.GlobalIndex(ctx.axisA, planar.Max.Axis(ctx.axisA)-half)
	ctx.loB = src.GlobalIndex(ctx.axisB, planar.Min.Axis(ctx.axisB)+half)
	ctx.hiB = src.GlobalIndex(ctx.axisB, planar.Max.Axis(ctx.axisB)-half)

	if !vertical.IsEmpty() {
		ctx.loUp = src.GlobalIndex(ctx.upIdx, vertical.Min.Axis(ctx.upIdx)+half)
		ctx.hiUp = src.GlobalIndex(ctx.upIdx, vertical.Max.Axis(ctx.upIdx)-half)
		ctx.hasVertical = ctx.loUp <= ctx.hiUp
	}
	return ctx
}

// verticalRange возвращает границы вертикального обхода колонки в
// порядке снизу вверх вдоль вертикальной оси, а также верхнюю границу
// для кандидатов опоры. Потолок ограничивает только кандидатов:
// просвет над опорой измеряется по всему наблюдаемому диапазону.
func (ctx *buildContext) verticalRange(h *Heightmap, base float64) (bottom, top, capTop, step int, ok bool) {
	if !ctx.hasVertical {
		return 0, 0, 0, 0, false
	}
	if ctx.sign > 0 {
		bottom, top, step = ctx.loUp, ctx.hiUp, 1
	} else {
		bottom, top, step = ctx.hiUp, ctx.loUp, -1
	}
	capTop = top
	if h.ceiling > 0 {
		// Кандидатом может быть воксель, центр которого не выше потолка
		capWorld := ctx.sign * (base + h.ceiling)
		capIdx := ctx.src.GlobalIndex(ctx.upIdx, capWorld-ctx.sign*ctx.src.Resolution()/2)
		if ctx.sign < 0 {
			// Вдоль отрицательной оси граница округляется вверх, чтобы
			// воксель с центром ровно на потолке остался кандидатом
			rel := (capWorld-ctx.src.Origin().Axis(ctx.upIdx))/ctx.src.Resolution() - 0.5
			capIdx = int(math.Ceil(rel))
		}
		if (capIdx-capTop)*step < 0 {
			capTop = capIdx
		}
	}
	if (top-bottom)*step < 0 || (capTop-bottom)*step < 0 {
		return 0, 0, 0, 0, false
	}
	return bottom, top, capTop, step, true
}

// columnWorldPos возвращает мировую позицию центра колонки
// (вертикальная компонента — ноль)
func (ctx *buildContext) columnWorldPos(ia, ib int) vec.Vec3Float {
	src := ctx.src
	res := src.Resolution()
	var pos vec.Vec3Float
	pos = pos.SetAxis(ctx.axisA, src.Origin().Axis(ctx.axisA)+(float64(ia)+0.5)*res)
	pos = pos.SetAxis(ctx.axisB, src.Origin().Axis(ctx.axisB)+(float64(ib)+0.5)*res)
	return pos
}

// processColumn выбирает поверхность колонки и записывает результат в
// тепловую карту высот. При неудаче сначала консультируется локальный
// кэш. Возвращает высоту для распространения затопления: высоту
// найденной поверхности либо прежнюю базу.
func (h *Heightmap) processColumn(ctx *buildContext, ia, ib int, base float64) float64 {
	result := h.selectColumnSurface(ctx, ia, ib, base)
	colPos := ctx.columnWorldPos(ia, ib)

	if result.found {
		occ := SurfaceValue
		if result.virtual {
			occ = VirtualSurfaceValue
		}
		h.writeColumnVoxel(colPos, occ, HeightmapVoxel{Height: result.height, Clearance: result.clearance})
		return result.height
	}

	if hv, occ, ok := h.lookupLocalCache(ctx, colPos); ok {
		h.writeColumnVoxel(colPos, occ, hv)
		return base
	}

	h.writeColumnVoxel(colPos, VacantValue, HeightmapVoxel{})
	return base
}

// writeColumnVoxel записывает ячейку тепловой карты высот колонки
func (h *Heightmap) writeColumnVoxel(colPos vec.Vec3Float, occ float32, hv HeightmapVoxel) {
	key := h.hm.KeyForPosition(colPos)
	h.Project(&key)
	h.hm.SetOccupancy(key, occ)
	h.hm.WriteLayer(key, h.hmLayer, hv.encode)
}

// lookupLocalCache ищет колонку в снимке локального кэша.
// Поиск выполняется по 2D позиции; вертикальная компонента
// игнорируется проекцией ключа.
func (h *Heightmap) lookupLocalCache(ctx *buildContext, colPos vec.Vec3Float) (HeightmapVoxel, float32, bool) {
	cache := ctx.prevCache
	if cache == nil || h.localCacheExtents <= 0 {
		return HeightmapVoxel{}, VacantValue, false
	}
	key := cache.KeyForPosition(colPos)
	h.Project(&key)
	occ := cache.Occupancy(key)
	if occ == voxel.UnobservedValue || isVacant(occ) {
		return HeightmapVoxel{}, VacantValue, false
	}
	var hv HeightmapVoxel
	layer := cache.Layout().LayerIndex(HeightmapLayerName)
	if !cache.ReadLayer(key, layer, func(cell []byte) {
		hv = decodeHeightmapVoxel(cell)
	}) {
		return HeightmapVoxel{}, VacantValue, false
	}
	return hv, occ, true
}

// buildPlanar — плоский обходчик: базовая высота каждой колонки равна
// высоте опорной позиции. Колонки независимы; при threadCount != 1
// строки делятся между рабочими горутинами. Записи не пересекаются,
// блокировка не требуется, результат детерминирован.
func (h *Heightmap) buildPlanar(ctx *buildContext) {
	if ctx.hiA < ctx.loA || ctx.hiB < ctx.loB {
		return
	}

	threads := h.threadCount
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	rows := ctx.hiB - ctx.loB + 1
	if threads > rows {
		threads = rows
	}

	processRow := func(ib int) {
		for ia := ctx.loA; ia <= ctx.hiA; ia++ {
			h.processColumn(ctx, ia, ib, ctx.refHeight)
		}
	}

	if threads <= 1 {
		for ib := ctx.loB; ib <= ctx.hiB; ib++ {
			processRow(ib)
		}
		return
	}

	var next atomic.Int64
	var wg sync.WaitGroup
	wg.Add(threads)
	for w := 0; w < threads; w++ {
		go func() {
			defer wg.Done()
			for {
				ib := ctx.loB + int(next.Add(1)) - 1
				if ib > ctx.hiB {
					return
				}
				processRow(ib)
			}
		}()
	}
	wg.Wait()
}

// ffItem — элемент фронтира затопления
type ffItem struct {
	ia, ib int
	base   float64
}

// buildFloodFill — обходчик затоплением: старт в колонке опорной
// позиции, 4-связные соседи заходят во фронтир FIFO с базой, равной
// зафиксированной высоте родителя. Порядок соседей {+a, -a, +b, -b}.
// Обход однопоточный.
func (h *Heightmap) buildFloodFill(ctx *buildContext) {
	if ctx.hiA < ctx.loA || ctx.hiB < ctx.loB {
		return
	}

	startA := clampInt(ctx.src.GlobalIndex(ctx.axisA, ctx.refPos.Axis(ctx.axisA)), ctx.loA, ctx.hiA)
	startB := clampInt(ctx.src.GlobalIndex(ctx.axisB, ctx.refPos.Axis(ctx.axisB)), ctx.loB, ctx.hiB)

	visited := make(map[vec.Vec2]struct{})
	frontier := []ffItem{{ia: startA, ib: startB, base: ctx.refHeight}}
	visited[vec.Vec2{X: startA, Y: startB}] = struct{}{}

	for head := 0; head < len(frontier); head++ {
		item := frontier[head]
		height := h.processColumn(ctx, item.ia, item.ib, item.base)

		neighbours := [4]vec.Vec2{
			{X: item.ia + 1, Y: item.ib},
			{X: item.ia - 1, Y: item.ib},
			{X: item.ia, Y: item.ib + 1},
			{X: item.ia, Y: item.ib - 1},
		}
		for _, n := range neighbours {
			if n.X < ctx.loA || n.X > ctx.hiA || n.Y < ctx.loB || n.Y > ctx.hiB {
				continue
			}
			if _, seen := visited[n]; seen {
				continue
			}
			visited[n] = struct{}{}
			frontier = append(frontier, ffItem{ia: n.X, ib: n.Y, base: height})
		}
	}
}

// clampInt ограничивает значение диапазоном [lo, hi]
func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
