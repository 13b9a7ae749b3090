package voxel

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/annel0/voxelmap/internal/logging"
	"github.com/annel0/voxelmap/internal/vec"
)

// UnobservedValue — значение занятости ненаблюдавшегося вокселя.
// Такие воксели классифицируются как неизвестные.
const UnobservedValue float32 = math.MaxFloat32

// DefaultRegionSize — размер региона по умолчанию (вокселей на ось)
const DefaultRegionSize = 32

// Occupancy классифицирует воксель по лог-оддс значению занятости
type Occupancy int

const (
	// OccupancyUnknown — воксель не наблюдался
	OccupancyUnknown Occupancy = iota
	// OccupancyFree — воксель наблюдался свободным
	OccupancyFree
	// OccupancyOccupied — воксель наблюдался занятым
	OccupancyOccupied
)

// region хранит по одному VoxelBlock на слой раскладки
type region struct {
	blocks []*VoxelBlock
}

// Map — вероятностная воксельная карта: регионы фиксированного
// размера, каждый из которых хранит слои данных в VoxelBlock.
// Значение занятости — лог-оддс float32; классификация выполняется
// порогом occupancyThreshold.
//
// Во время построения тепловой карты источник читается из нескольких
// горутин, а выходная карта пишется в непересекающиеся колонки;
// мьютекс защищает только создание регионов.
type Map struct {
	mu         sync.RWMutex
	resolution float64
	origin     vec.Vec3Float
	regionDims vec.Vec3
	layout     *MapLayout
	regions    map[vec.Vec3]*region
	queue      *CompressionQueue
	info       *MapInfo

	occupancyThreshold float32
}

// NewMap создаёт пустую карту с указанным разрешением и размерами
// региона. Нулевые компоненты regionDims заменяются размером по
// умолчанию.
func NewMap(resolution float64, regionDims vec.Vec3) *Map {
	if regionDims.X <= 0 {
		regionDims.X = DefaultRegionSize
	}
	if regionDims.Y <= 0 {
		regionDims.Y = DefaultRegionSize
	}
	if regionDims.Z <= 0 {
		regionDims.Z = DefaultRegionSize
	}
	return &Map{
		resolution: resolution,
		regionDims: regionDims,
		layout:     NewMapLayout(),
		regions:    make(map[vec.Vec3]*region),
		info:       NewMapInfo(),
	}
}

// SetCompressionQueue привязывает очередь сжатия. Новые блоки будут
// регистрироваться в ней. Должна задаваться до создания регионов.
func (m *Map) SetCompressionQueue(q *CompressionQueue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = q
}

// CompressionQueue возвращает привязанную очередь сжатия (или nil)
func (m *Map) CompressionQueue() *CompressionQueue {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queue
}

// EnableVoxelMean добавляет слой субвоксельных центроидов.
// Должен вызываться до создания первого региона.
func (m *Map) EnableVoxelMean() {
	if m.layout.MeanLayer() < 0 {
		// 3 float32 смещения + float32 счётчик наблюдений
		m.layout.AddLayer(LayerMean, 16)
	}
}

// HasVoxelMean сообщает о наличии слоя субвоксельных центроидов
func (m *Map) HasVoxelMean() bool {
	return m.layout.MeanLayer() >= 0
}

// Resolution возвращает размер вокселя
func (m *Map) Resolution() float64 {
	return m.resolution
}

// RegionDims возвращает размеры региона в вокселях
func (m *Map) RegionDims() vec.Vec3 {
	return m.regionDims
}

// Origin возвращает начало координат карты
func (m *Map) Origin() vec.Vec3Float {
	return m.origin
}

// SetOrigin задаёт начало координат карты
func (m *Map) SetOrigin(origin vec.Vec3Float) {
	m.origin = origin
}

// Layout возвращает раскладку слоёв
func (m *Map) Layout() *MapLayout {
	return m.layout
}

// Info возвращает хранилище метаданных карты
func (m *Map) Info() *MapInfo {
	return m.info
}

// SetOccupancyThreshold задаёт порог классификации занятости
func (m *Map) SetOccupancyThreshold(threshold float32) {
	m.occupancyThreshold = threshold
}

// OccupancyThreshold возвращает порог классификации занятости
func (m *Map) OccupancyThreshold() float32 {
	return m.occupancyThreshold
}

// KeyForPosition возвращает ключ вокселя, содержащего точку
func (m *Map) KeyForPosition(pos vec.Vec3Float) Key {
	var key Key
	for axis := 0; axis < 3; axis++ {
		idx := int(math.Floor((pos.Axis(axis) - m.origin.Axis(axis)) / m.resolution))
		dim := m.regionDims.Axis(axis)
		regionIdx := floorDiv(idx, dim)
		key.Region = key.Region.SetAxis(axis, regionIdx)
		key.Local = key.Local.SetAxis(axis, idx-regionIdx*dim)
	}
	return key
}

// VoxelCentre возвращает центр вокселя в мировых координатах
func (m *Map) VoxelCentre(key Key) vec.Vec3Float {
	var pos vec.Vec3Float
	for axis := 0; axis < 3; axis++ {
		idx := key.AxisIndex(axis, m.regionDims)
		pos = pos.SetAxis(axis, m.origin.Axis(axis)+(float64(idx)+0.5)*m.resolution)
	}
	return pos
}

// KeyForIndex строит ключ по глобальным индексам вокселя
func (m *Map) KeyForIndex(idx vec.Vec3) Key {
	var key Key
	for axis := 0; axis < 3; axis++ {
		dim := m.regionDims.Axis(axis)
		regionIdx := floorDiv(idx.Axis(axis), dim)
		key.Region = key.Region.SetAxis(axis, regionIdx)
		key.Local = key.Local.SetAxis(axis, idx.Axis(axis)-regionIdx*dim)
	}
	return key
}

// GlobalIndex возвращает глобальный индекс вокселя вдоль оси для
// мировой координаты
func (m *Map) GlobalIndex(axis int, coord float64) int {
	return int(math.Floor((coord - m.origin.Axis(axis)) / m.resolution))
}

// MoveKeyAlongAxis сдвигает ключ на steps вокселей вдоль оси,
// корректно переступая границы регионов
func (m *Map) MoveKeyAlongAxis(key Key, axis, steps int) Key {
	idx := key.AxisIndex(axis, m.regionDims) + steps
	dim := m.regionDims.Axis(axis)
	regionIdx := floorDiv(idx, dim)
	key.Region = key.Region.SetAxis(axis, regionIdx)
	key.Local = key.Local.SetAxis(axis, idx-regionIdx*dim)
	return key
}

// Occupancy возвращает значение занятости вокселя.
// Для вокселей вне заполненных регионов — UnobservedValue.
func (m *Map) Occupancy(key Key) float32 {
	value := UnobservedValue
	m.ReadLayer(key, m.layout.OccupancyLayer(), func(cell []byte) {
		value = math.Float32frombits(binary.LittleEndian.Uint32(cell))
	})
	return value
}

// SetOccupancy записывает значение занятости, создавая регион при
// необходимости
func (m *Map) SetOccupancy(key Key, value float32) {
	m.WriteLayer(key, m.layout.OccupancyLayer(), func(cell []byte) {
		binary.LittleEndian.PutUint32(cell, math.Float32bits(value))
	})
}

// OccupancyType классифицирует воксель по порогу занятости
func (m *Map) OccupancyType(key Key) Occupancy {
	return m.classify(m.Occupancy(key))
}

// classify переводит лог-оддс значение в классификацию
func (m *Map) classify(value float32) Occupancy {
	if value == UnobservedValue {
		return OccupancyUnknown
	}
	if value >= m.occupancyThreshold {
		return OccupancyOccupied
	}
	return OccupancyFree
}

// VoxelPosition возвращает позицию вокселя: субвоксельный центроид,
// если он наблюдался, иначе центр вокселя.
func (m *Map) VoxelPosition(key Key) vec.Vec3Float {
	centre := m.VoxelCentre(key)
	meanLayer := m.layout.MeanLayer()
	if meanLayer < 0 {
		return centre
	}
	pos := centre
	m.ReadLayer(key, meanLayer, func(cell []byte) {
		count := math.Float32frombits(binary.LittleEndian.Uint32(cell[12:]))
		if count > 0 {
			for axis := 0; axis < 3; axis++ {
				off := math.Float32frombits(binary.LittleEndian.Uint32(cell[axis*4:]))
				pos = pos.SetAxis(axis, centre.Axis(axis)+float64(off))
			}
		}
	})
	return pos
}

// SetVoxelPosition записывает субвоксельный центроид вокселя.
// Позиция за пределами вокселя обрезается до его границ.
func (m *Map) SetVoxelPosition(key Key, pos vec.Vec3Float) {
	meanLayer := m.layout.MeanLayer()
	if meanLayer < 0 {
		return
	}
	centre := m.VoxelCentre(key)
	half := m.resolution / 2
	m.WriteLayer(key, meanLayer, func(cell []byte) {
		for axis := 0; axis < 3; axis++ {
			off := pos.Axis(axis) - centre.Axis(axis)
			off = math.Max(-half, math.Min(half, off))
			binary.LittleEndian.PutUint32(cell[axis*4:], math.Float32bits(float32(off)))
		}
		binary.LittleEndian.PutUint32(cell[12:], math.Float32bits(1))
	})
}

// RegionKeys возвращает ключи всех заполненных регионов
func (m *Map) RegionKeys() []vec.Vec3 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]vec.Vec3, 0, len(m.regions))
	for k := range m.regions {
		keys = append(keys, k)
	}
	return keys
}

// RegionCount возвращает количество заполненных регионов
func (m *Map) RegionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.regions)
}

// Extents возвращает бокс, покрывающий все заполненные регионы.
// Для пустой карты возвращается пустой бокс.
func (m *Map) Extents() AABB {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.regions) == 0 {
		return EmptyAABB()
	}
	box := EmptyAABB()
	for rk := range m.regions {
		lo, hi := m.regionSpatialMin(rk), m.regionSpatialMax(rk)
		if box.IsEmpty() {
			// Первый регион задаёт бокс целиком: вырожденный бокс в
			// начале координат совпал бы с незаданным
			box = AABB{Min: lo, Max: hi}
			continue
		}
		box = box.Expand(lo)
		box = box.Expand(hi)
	}
	return box
}

// regionSpatialMin возвращает минимальный угол региона
func (m *Map) regionSpatialMin(rk vec.Vec3) vec.Vec3Float {
	var p vec.Vec3Float
	for axis := 0; axis < 3; axis++ {
		p = p.SetAxis(axis, m.origin.Axis(axis)+float64(rk.Axis(axis)*m.regionDims.Axis(axis))*m.resolution)
	}
	return p
}

// regionSpatialMax возвращает максимальный угол региона
func (m *Map) regionSpatialMax(rk vec.Vec3) vec.Vec3Float {
	p := m.regionSpatialMin(rk)
	for axis := 0; axis < 3; axis++ {
		p = p.SetAxis(axis, p.Axis(axis)+float64(m.regionDims.Axis(axis))*m.resolution)
	}
	return p
}

// Clear удаляет все регионы, сохраняя раскладку и метаданные
// конструкции. Блоки удаляются из очереди сжатия.
func (m *Map) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queue != nil {
		for _, r := range m.regions {
			for _, b := range r.blocks {
				m.queue.Remove(b)
			}
		}
	}
	m.regions = make(map[vec.Vec3]*region)
}

// voxelIndex возвращает линейный индекс вокселя внутри региона
func (m *Map) voxelIndex(local vec.Vec3) int {
	return local.X + m.regionDims.X*(local.Y+m.regionDims.Y*local.Z)
}

// regionFor возвращает регион по ключу, создавая его при create
func (m *Map) regionFor(rk vec.Vec3, create bool) *region {
	m.mu.RLock()
	r := m.regions[rk]
	m.mu.RUnlock()
	if r != nil || !create {
		return r
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if r = m.regions[rk]; r != nil {
		return r
	}
	r = &region{blocks: make([]*VoxelBlock, m.layout.LayerCount())}
	for i := 0; i < m.layout.LayerCount(); i++ {
		r.blocks[i] = NewVoxelBlock(m.layout.Layer(i).LayerByteSize(m.regionDims), m.queue)
	}
	// Слой занятости заполняется значением "не наблюдалось":
	// нулевые байты означали бы занятый воксель
	occ := r.blocks[m.layout.OccupancyLayer()]
	if err := occ.Retain(); err == nil {
		raw := occ.Bytes()
		bits := math.Float32bits(UnobservedValue)
		for off := 0; off < len(raw); off += 4 {
			binary.LittleEndian.PutUint32(raw[off:], bits)
		}
		occ.Release()
	}
	m.regions[rk] = r
	return r
}

// ReadLayer выполняет fn над записью вокселя в слое, если регион
// существует. Возвращает успех доступа.
func (m *Map) ReadLayer(key Key, layer int, fn func(cell []byte)) bool {
	return m.accessLayer(key, layer, false, fn)
}

// WriteLayer выполняет fn над записью вокселя в слое, создавая регион
// при необходимости
func (m *Map) WriteLayer(key Key, layer int, fn func(cell []byte)) bool {
	return m.accessLayer(key, layer, true, fn)
}

// accessLayer — общий путь доступа к данным вокселя. Блок слоя
// удерживается на время вызова fn: это единственный безопасный
// способ обращения к байтам блока.
func (m *Map) accessLayer(key Key, layer int, create bool, fn func(cell []byte)) bool {
	if layer < 0 || layer >= m.layout.LayerCount() {
		return false
	}
	r := m.regionFor(key.Region, create)
	if r == nil {
		return false
	}
	b := r.blocks[layer]
	if err := b.Retain(); err != nil {
		logging.Error("❌ Недоступен блок слоя %d региона %v: %v", layer, key.Region, err)
		return false
	}
	defer b.Release()

	cellSize := m.layout.Layer(layer).VoxelByteSize()
	offset := m.voxelIndex(key.Local) * cellSize
	fn(b.Bytes()[offset : offset+cellSize])
	return true
}

// floorDiv — целочисленное деление с округлением вниз
func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
