package voxel

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/shirou/gopsutil/v3/mem"
)

// Интервал фонового прохода регулятора в рабочем режиме
const compressionTickInterval = 500 * time.Millisecond

// Запасные отметки на случай, когда объём памяти системы недоступен
const (
	fallbackHighWaterMark = uint64(1) << 30 // 1 ГиБ
	fallbackLowWaterMark  = fallbackHighWaterMark - fallbackHighWaterMark/4
)

// QueueStats — снимок показателей очереди для экспорта метрик
type QueueStats struct {
	BlockCount          int
	AllocatedBytes      uint64
	CompressedBlocks    int
	CompressionsTotal   uint64
	DecompressionsTotal uint64
	CompressionErrors   uint64
	DecompressionErrors uint64
	TickCount           uint64
}

// CompressionQueue следит за зарегистрированными воксельными блоками
// и удерживает суммарный объём их памяти ниже верхней отметки,
// сжимая неиспользуемые блоки. Блоки распаковываются синхронно при
// Retain. Один общий мьютекс охраняет список блоков, отметки и проход
// регулятора: проходы короткие и не лежат на горячем пути колонок.
//
// В тестовом режиме фоновая горутина не запускается — Tick вызывается
// явно, что делает поведение детерминированным. Контракт регулятора
// одинаков в обоих режимах, различается только планирование.
type CompressionQueue struct {
	mu     sync.Mutex
	blocks []*VoxelBlock
	high   uint64
	low    uint64

	enc *zstd.Encoder
	dec *zstd.Decoder

	testMode bool
	quit     chan struct{}
	done     chan struct{}

	clock uint64 // источник LRU-меток, монотонный

	compressions   atomic.Uint64
	decompressions atomic.Uint64
	compressErrs   atomic.Uint64
	decompressErrs atomic.Uint64
	ticks          atomic.Uint64
}

// NewCompressionQueue создаёт очередь сжатия. В рабочем режиме
// (testMode == false) запускается фоновая горутина, вызывающая проход
// регулятора по таймеру. Отметки по умолчанию выводятся из объёма
// памяти системы.
func NewCompressionQueue(testMode bool) (*CompressionQueue, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("создание компрессора zstd: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("создание декомпрессора zstd: %w", err)
	}

	high, low := defaultWaterMarks()
	q := &CompressionQueue{
		high:     high,
		low:      low,
		enc:      enc,
		dec:      dec,
		testMode: testMode,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	if !testMode {
		go q.run()
	} else {
		close(q.done)
	}
	return q, nil
}

// defaultWaterMarks выводит отметки из доступной памяти системы:
// верхняя — восьмая часть общего объёма, нижняя — три четверти верхней.
func defaultWaterMarks() (high, low uint64) {
	vm, err := mem.VirtualMemory()
	if err != nil || vm.Total == 0 {
		return fallbackHighWaterMark, fallbackLowWaterMark
	}
	high = vm.Total / 8
	low = high - high/4
	return high, low
}

// Stop останавливает фоновую горутину. Останов наблюдается на границе
// прохода: начатый проход завершается полностью.
func (q *CompressionQueue) Stop() {
	select {
	case <-q.quit:
	default:
		close(q.quit)
	}
	<-q.done
}

// run — цикл фонового регулятора (рабочий режим)
func (q *CompressionQueue) run() {
	defer close(q.done)

	ticker := time.NewTicker(compressionTickInterval)
	defer ticker.Stop()

	var scratch []byte
	for {
		select {
		case <-q.quit:
			return
		case <-ticker.C:
			scratch = q.Tick(scratch)
		}
	}
}

// Push регистрирует блок в очереди. Блок начинает жизнь несжатым.
func (q *CompressionQueue) Push(b *VoxelBlock) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.blocks = append(q.blocks, b)
}

// Remove исключает блок из очереди (например, при очистке карты)
func (q *CompressionQueue) Remove(b *VoxelBlock) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, cand := range q.blocks {
		if cand == b {
			q.blocks = append(q.blocks[:i], q.blocks[i+1:]...)
			return
		}
	}
}

// SetHighWaterMark задаёт верхнюю отметку регулятора в байтах.
// Нижняя отметка подтягивается, чтобы сохранить low <= high.
func (q *CompressionQueue) SetHighWaterMark(bytes uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.high = bytes
	if q.low > q.high {
		q.low = q.high
	}
}

// SetLowWaterMark задаёт нижнюю отметку регулятора в байтах
func (q *CompressionQueue) SetLowWaterMark(bytes uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.low = bytes
}

// HighWaterMark возвращает верхнюю отметку
func (q *CompressionQueue) HighWaterMark() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.high
}

// LowWaterMark возвращает нижнюю отметку
func (q *CompressionQueue) LowWaterMark() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.low
}

// EstimatedAllocationSize возвращает суммарный учитываемый размер
// всех зарегистрированных блоков: несжатые байты плюс сжатые.
func (q *CompressionQueue) EstimatedAllocationSize() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.allocationLocked()
}

// allocationLocked суммирует размеры блоков. Вызывается под q.mu.
func (q *CompressionQueue) allocationLocked() uint64 {
	var total uint64
	for _, b := range q.blocks {
		b.mu.Lock()
		total += b.allocatedLocked()
		b.mu.Unlock()
	}
	return total
}

// Tick выполняет один проход регулятора: если суммарный размер выше
// верхней отметки, сжимает неудержанные блоки в порядке давности
// обращения, пока размер не опустится ниже нижней отметки (при
// размере, равном нижней отметке, сжатие продолжается). Буфер
// scratch переиспользуется между вызовами; возвращается его
// (возможно выросшая) версия.
//
// В рабочем режиме Tick вызывается фоновой горутиной; явный вызов
// нужен для детерминированных тестов.
func (q *CompressionQueue) Tick(scratch []byte) []byte {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.ticks.Add(1)

	size := q.allocationLocked()
	if size <= q.high {
		return scratch
	}

	// Кандидаты в порядке давности обращения (приблизительный LRU)
	candidates := make([]*VoxelBlock, len(q.blocks))
	copy(candidates, q.blocks)
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].stamp.Load() < candidates[j].stamp.Load()
	})

	for _, b := range candidates {
		// Сжатие продолжается, пока объём не опустится ниже нижней
		// отметки
		if size < q.low {
			break
		}
		freed, used := q.compressBlock(b, &scratch)
		size -= freed
		size += used
	}
	return scratch
}

// compressBlock пытается сжать один блок. Возвращает количество
// освобождённых и занятых байт. Неподходящие блоки (удержанные, уже
// сжатые, повреждённые) пропускаются. Неудача сжатия оставляет блок
// несжатым с полным учётом размера.
func (q *CompressionQueue) compressBlock(b *VoxelBlock, scratch *[]byte) (freed, used uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.refs > 0 || b.uncompressed == nil || b.flags&FlagCorrupt != 0 {
		return 0, 0
	}

	out := q.enc.EncodeAll(b.uncompressed, (*scratch)[:0])
	*scratch = out[:0]
	if len(out) >= len(b.uncompressed) {
		// Несжимаемые данные: оставляем блок как есть
		q.compressErrs.Add(1)
		return 0, 0
	}

	b.sum = xxhash.Sum64(b.uncompressed)
	b.compressed = append([]byte(nil), out...)
	freed = uint64(len(b.uncompressed))
	used = uint64(len(b.compressed))
	b.uncompressed = nil
	b.flags &^= FlagUncompressed | FlagMarkedForCompression
	q.compressions.Add(1)
	return freed, used
}

// decompress распаковывает данные блока. Вызывается из VoxelBlock.Retain.
func (q *CompressionQueue) decompress(compressed []byte, layerSize int) ([]byte, error) {
	raw, err := q.dec.DecodeAll(compressed, make([]byte, 0, layerSize))
	if err != nil {
		q.decompressErrs.Add(1)
		return nil, err
	}
	if len(raw) != layerSize {
		q.decompressErrs.Add(1)
		return nil, fmt.Errorf("размер распакованных данных %d не совпадает с размером слоя %d", len(raw), layerSize)
	}
	q.decompressions.Add(1)
	return raw, nil
}

// nextStamp выдаёт следующую LRU-метку
func (q *CompressionQueue) nextStamp() uint64 {
	return atomic.AddUint64(&q.clock, 1)
}

// Stats возвращает снимок показателей очереди
func (q *CompressionQueue) Stats() QueueStats {
	q.mu.Lock()
	stats := QueueStats{
		BlockCount:     len(q.blocks),
		AllocatedBytes: q.allocationLocked(),
	}
	for _, b := range q.blocks {
		b.mu.Lock()
		if b.uncompressed == nil && b.flags&FlagCorrupt == 0 {
			stats.CompressedBlocks++
		}
		b.mu.Unlock()
	}
	q.mu.Unlock()

	stats.CompressionsTotal = q.compressions.Load()
	stats.DecompressionsTotal = q.decompressions.Load()
	stats.CompressionErrors = q.compressErrs.Load()
	stats.DecompressionErrors = q.decompressErrs.Load()
	stats.TickCount = q.ticks.Load()
	return stats
}
