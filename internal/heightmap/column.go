package heightmap

import (
	"github.com/annel0/voxelmap/internal/vec"
	"github.com/annel0/voxelmap/internal/voxel"
)

// columnResult — исход выбора опорной поверхности для одной колонки
type columnResult struct {
	found     bool
	virtual   bool
	height    float64 // высота вдоль вертикальной оси (со знаком)
	clearance float32
}

// candidate — зафиксированный кандидат опорной поверхности
type candidate struct {
	height    float64
	clearance float32
}

// selectColumnSurface выбирает опорную поверхность колонки (ia, ib) с
// базовой высотой base (вдоль вертикальной оси, со знаком).
//
// Колонка обходится снизу вверх вдоль вертикальной оси. Первый
// занятый воксель не выше потолка становится предварительной опорой;
// свободные воксели над ним накапливают просвет. Очередной занятый
// воксель до достижения минимального просвета отменяет опору; занятый
// воксель после достижения минимума фиксирует её с измеренным
// просветом. Просвет меряется по всему наблюдаемому диапазону —
// потолок ограничивает только кандидатов. Достижение верха диапазона
// фиксирует опору безусловно: пространство выше не наблюдалось, и
// просвет сообщается как измеренный (0, если свободных вокселей не
// было). Из зафиксированных кандидатов выбирается ближайший к базовой
// высоте; при равенстве — верхний.
//
// Если занятых кандидатов нет и включены виртуальные поверхности,
// выбирается нижний свободный воксель не выше потолка, под которым
// лежит неизвестный.
func (h *Heightmap) selectColumnSurface(ctx *buildContext, ia, ib int, base float64) columnResult {
	src := ctx.src
	res := src.Resolution()
	sign := ctx.sign
	upIdx := ctx.upIdx

	bottom, top, capTop, step, ok := ctx.verticalRange(h, base)
	if !ok {
		return columnResult{}
	}

	keyAt := func(up int) voxel.Key {
		idx := vec.Vec3{}
		idx = idx.SetAxis(ctx.axisA, ia)
		idx = idx.SetAxis(ctx.axisB, ib)
		idx = idx.SetAxis(upIdx, up)
		return src.KeyForIndex(idx)
	}

	// Высота вокселя с учётом субвоксельного центроида
	voxelHeight := func(up int) (height, centreHeight float64) {
		key := keyAt(up)
		centre := src.VoxelCentre(key)
		centreHeight = sign * centre.Axis(upIdx)
		if h.ignoreSubVoxel || !src.HasVoxelMean() {
			return centreHeight, centreHeight
		}
		pos := src.VoxelPosition(key)
		return sign * pos.Axis(upIdx), centreHeight
	}

	var committed []candidate
	provisional := 0
	haveProvisional := false
	freeRun := 0

	virtualIdx := 0
	haveVirtual := false

	// Фиксация предварительной опоры. atRangeEnd допускает просвет
	// меньше минимального: пространство выше диапазона не наблюдалось.
	commit := func(atRangeEnd bool) {
		clearance := float64(freeRun) * res
		if !atRangeEnd && clearance < h.minClearance {
			return
		}
		height, centreHeight := voxelHeight(provisional)
		adjusted := clearance
		if freeRun > 0 {
			// Просвет меряется от той же опорной точки, что и высота
			adjusted += centreHeight - height
		}
		committed = append(committed, candidate{height: height, clearance: float32(adjusted)})
	}

	prev := src.OccupancyType(keyAt(bottom - step))

	for up := bottom; up != top+step; up += step {
		withinCap := (up-capTop)*step <= 0
		switch src.OccupancyType(keyAt(up)) {
		case voxel.OccupancyOccupied:
			if haveProvisional {
				commit(false)
				haveProvisional = false
			}
			if withinCap {
				provisional = up
				haveProvisional = true
				freeRun = 0
			}
			prev = voxel.OccupancyOccupied
		case voxel.OccupancyFree:
			if haveProvisional {
				freeRun++
			}
			if !haveVirtual && withinCap && prev == voxel.OccupancyUnknown {
				virtualIdx = up
				haveVirtual = true
			}
			prev = voxel.OccupancyFree
		default:
			// Неизвестный воксель прерывает накопление просвета:
			// подтвердить просвет дальше нельзя
			if haveProvisional {
				commit(false)
				haveProvisional = false
				freeRun = 0
			}
			prev = voxel.OccupancyUnknown
		}
	}
	if haveProvisional {
		commit(true)
	}

	if len(committed) > 0 {
		best := committed[0]
		for _, cand := range committed[1:] {
			db := absFloat(best.height - base)
			dc := absFloat(cand.height - base)
			if dc < db || (dc == db && cand.height > best.height) {
				best = cand
			}
		}
		return columnResult{found: true, height: best.height, clearance: best.clearance}
	}

	if h.generateVirtualSurface && haveVirtual {
		height, _ := voxelHeight(virtualIdx)
		return columnResult{found: true, virtual: true, height: height, clearance: 0}
	}

	return columnResult{}
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
