package voxel

import (
	"testing"
)

const testLayerSize = 4096

// newTestQueue создаёт очередь в тестовом режиме: регулятор
// вызывается только явно через Tick
func newTestQueue(t *testing.T) *CompressionQueue {
	t.Helper()
	q, err := NewCompressionQueue(true)
	if err != nil {
		t.Fatalf("Не удалось создать очередь сжатия: %v", err)
	}
	return q
}

// countUncompressed возвращает число блоков с флагом Uncompressed
func countUncompressed(blocks []*VoxelBlock) int {
	count := 0
	for _, b := range blocks {
		if b.Flags()&FlagUncompressed != 0 {
			count++
		}
	}
	return count
}

// TestCompressionManaged повторяет полный жизненный цикл регулятора:
// отметки, удержание, пошаговое опускание нижней отметки
func TestCompressionManaged(t *testing.T) {
	q := newTestQueue(t)

	const blockCount = 10
	uncompressedSize := uint64(blockCount * testLayerSize)

	blocks := make([]*VoxelBlock, 0, blockCount)
	for i := 0; i < blockCount; i++ {
		blocks = append(blocks, NewVoxelBlock(testLayerSize, q))
	}

	var scratch []byte

	// Верхняя отметка выше текущего объёма: сжатия нет
	q.SetHighWaterMark((blockCount + 1) * testLayerSize)
	scratch = q.Tick(scratch)
	if got := q.EstimatedAllocationSize(); got != uncompressedSize {
		t.Fatalf("Сжатия не ожидалось: %d != %d", got, uncompressedSize)
	}

	// Удержанные блоки не сжимаются даже при нулевых отметках
	for _, b := range blocks {
		if err := b.Retain(); err != nil {
			t.Fatalf("Ошибка удержания: %v", err)
		}
	}
	q.SetHighWaterMark(0)
	q.SetLowWaterMark(0)
	scratch = q.Tick(scratch)
	if got := q.EstimatedAllocationSize(); got != uncompressedSize {
		t.Fatalf("Удержанные блоки должны остаться несжатыми: %d != %d", got, uncompressedSize)
	}

	// После освобождения всё сжимается
	for _, b := range blocks {
		b.Release()
	}
	scratch = q.Tick(scratch)
	compressedSize := q.EstimatedAllocationSize()
	if compressedSize >= uncompressedSize {
		t.Fatalf("Ожидалось сжатие: %d >= %d", compressedSize, uncompressedSize)
	}
	for i, b := range blocks {
		if b.Flags()&FlagUncompressed != 0 {
			t.Errorf("Блок %d должен быть сжат", i)
		}
		if b.Flags()&FlagLocked != 0 {
			t.Errorf("Блок %d не должен быть заблокирован", i)
		}
	}

	// Удержание синхронно распаковывает каждый блок
	for i, b := range blocks {
		if err := b.Retain(); err != nil {
			t.Fatalf("Ошибка удержания блока %d: %v", i, err)
		}
		if b.Flags()&FlagUncompressed == 0 {
			t.Errorf("Удержанный блок %d должен быть несжатым", i)
		}
	}
	scratch = q.Tick(scratch)
	if got := q.EstimatedAllocationSize(); got != uncompressedSize {
		t.Fatalf("После распаковки всех блоков: %d != %d", got, uncompressedSize)
	}

	// Нижняя отметка выше объёма удерживает всё несжатым
	q.SetLowWaterMark(uncompressedSize + 1)
	for _, b := range blocks {
		b.Release()
		if b.Flags()&FlagUncompressed == 0 {
			t.Error("Освобождение не должно сжимать блок")
		}
	}
	scratch = q.Tick(scratch)
	if got := q.EstimatedAllocationSize(); got != uncompressedSize {
		t.Fatalf("Нижняя отметка должна удержать блоки: %d != %d", got, uncompressedSize)
	}

	// Пошаговое опускание нижней отметки сжимает по одному блоку
	for i := blockCount; i > 0; i-- {
		q.SetLowWaterMark(uint64(testLayerSize * i))
		scratch = q.Tick(scratch)

		uncompressed := countUncompressed(blocks)
		if uncompressed != i-1 {
			t.Fatalf("Отметка %d: несжатых блоков %d, ожидалось %d", i, uncompressed, i-1)
		}
		if got := q.EstimatedAllocationSize(); got >= uint64(testLayerSize*i) {
			t.Errorf("Отметка %d: объём %d должен быть ниже отметки", i, got)
		}
	}
	_ = scratch
}

// TestCompressionTickReducesSize: проход с нулевой верхней отметкой
// строго уменьшает объём при отсутствии удержаний
func TestCompressionTickReducesSize(t *testing.T) {
	q := newTestQueue(t)
	for i := 0; i < 4; i++ {
		NewVoxelBlock(testLayerSize, q)
	}
	before := q.EstimatedAllocationSize()

	q.SetHighWaterMark(0)
	q.SetLowWaterMark(0)
	q.Tick(nil)

	after := q.EstimatedAllocationSize()
	if after >= before {
		t.Errorf("Объём должен уменьшиться: %d >= %d", after, before)
	}
}

// TestRetainAfterCorruption: повреждённый сжатый блок фатален при
// удержании и остаётся нечитаемым
func TestRetainAfterCorruption(t *testing.T) {
	q := newTestQueue(t)
	b := NewVoxelBlock(testLayerSize, q)

	q.SetHighWaterMark(0)
	q.SetLowWaterMark(0)
	q.Tick(nil)
	if b.Flags()&FlagUncompressed != 0 {
		t.Fatal("Блок должен быть сжат")
	}

	// Повреждаем сжатые данные
	b.mu.Lock()
	b.compressed = []byte{0x01, 0x02, 0x03}
	b.mu.Unlock()

	if err := b.Retain(); err == nil {
		t.Fatal("Ожидалась ошибка распаковки")
	}
	if b.Flags()&FlagCorrupt == 0 {
		t.Error("Блок должен быть помечен повреждённым")
	}
	if err := b.Retain(); err == nil {
		t.Error("Повторное удержание повреждённого блока должно завершаться ошибкой")
	}
}

// TestChecksumMismatch: несовпадение контрольной суммы после
// распаковки фатально для блока
func TestChecksumMismatch(t *testing.T) {
	q := newTestQueue(t)
	b := NewVoxelBlock(testLayerSize, q)

	q.SetHighWaterMark(0)
	q.SetLowWaterMark(0)
	q.Tick(nil)

	// Данные корректно распакуются, но сумма не совпадёт
	b.mu.Lock()
	b.sum++
	b.mu.Unlock()

	if err := b.Retain(); err == nil {
		t.Fatal("Ожидалась ошибка контрольной суммы")
	}
}

// TestWaterMarkOrdering: установка верхней отметки подтягивает нижнюю
func TestWaterMarkOrdering(t *testing.T) {
	q := newTestQueue(t)
	q.SetLowWaterMark(1000)
	q.SetHighWaterMark(500)
	if low, high := q.LowWaterMark(), q.HighWaterMark(); low > high {
		t.Errorf("Нарушен контракт low <= high: %d > %d", low, high)
	}
}

// TestBlockRemove: удалённые блоки не учитываются
func TestBlockRemove(t *testing.T) {
	q := newTestQueue(t)
	b1 := NewVoxelBlock(testLayerSize, q)
	NewVoxelBlock(testLayerSize, q)

	q.Remove(b1)
	if got := q.EstimatedAllocationSize(); got != testLayerSize {
		t.Errorf("После удаления блока: %d != %d", got, testLayerSize)
	}
	if s := q.Stats(); s.BlockCount != 1 {
		t.Errorf("Ожидался один блок, получено %d", s.BlockCount)
	}
}

// TestProductionModeStop: рабочий режим останавливается чисто
func TestProductionModeStop(t *testing.T) {
	q, err := NewCompressionQueue(false)
	if err != nil {
		t.Fatalf("Не удалось создать очередь: %v", err)
	}
	NewVoxelBlock(testLayerSize, q)
	q.Stop()
}
