package voxel

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// BlockFlags описывают текущее состояние VoxelBlock
type BlockFlags uint8

const (
	// FlagUncompressed — данные блока доступны в несжатом виде
	FlagUncompressed BlockFlags = 1 << iota
	// FlagLocked — блок удержан (retain) хотя бы одним пользователем
	FlagLocked
	// FlagMarkedForCompression — блок готов к сжатию регулятором
	FlagMarkedForCompression
	// FlagCorrupt — распаковка блока завершилась ошибкой, данные потеряны
	FlagCorrupt
)

// VoxelBlock хранит байты одного слоя одного региона. Это единица
// учёта и сжатия для CompressionQueue. Доступ к данным разрешён
// только между Retain и Release: удержанный блок гарантированно
// несжат и не будет сжат регулятором.
type VoxelBlock struct {
	mu           sync.Mutex
	queue        *CompressionQueue
	layerSize    int
	uncompressed []byte
	compressed   []byte
	refs         int
	flags        BlockFlags
	stamp        atomic.Uint64 // метка последнего обращения для LRU-порядка
	sum          uint64        // xxhash несжатых данных, проверяется после распаковки
}

// NewVoxelBlock создаёт несжатый блок нужного размера и регистрирует
// его в очереди сжатия (если она задана).
func NewVoxelBlock(layerSize int, queue *CompressionQueue) *VoxelBlock {
	b := &VoxelBlock{
		queue:        queue,
		layerSize:    layerSize,
		uncompressed: make([]byte, layerSize),
		flags:        FlagUncompressed,
	}
	if queue != nil {
		queue.Push(b)
	}
	return b
}

// LayerSize возвращает размер несжатых данных блока
func (b *VoxelBlock) LayerSize() int {
	return b.layerSize
}

// Flags возвращает текущие флаги блока
func (b *VoxelBlock) Flags() BlockFlags {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flags
}

// Retain удерживает блок, при необходимости синхронно распаковывая
// его. После успешного возврата блок несжат и заблокирован для
// регулятора. Ошибка распаковки фатальна для блока: его данные
// считаются потерянными.
func (b *VoxelBlock) Retain() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.flags&FlagCorrupt != 0 {
		return fmt.Errorf("воксельный блок повреждён и не может быть прочитан")
	}

	if b.uncompressed == nil {
		if err := b.inflateLocked(); err != nil {
			b.flags |= FlagCorrupt
			return fmt.Errorf("распаковка воксельного блока: %w", err)
		}
	}

	b.refs++
	b.flags |= FlagLocked
	b.flags &^= FlagMarkedForCompression
	b.touchLocked()
	return nil
}

// Release снимает удержание. Когда счётчик достигает нуля, блок
// становится кандидатом на сжатие.
func (b *VoxelBlock) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.refs == 0 {
		return
	}
	b.refs--
	if b.refs == 0 {
		b.flags &^= FlagLocked
		b.flags |= FlagMarkedForCompression
	}
	b.touchLocked()
}

// Bytes возвращает несжатые данные блока. Срез действителен только
// пока блок удержан.
func (b *VoxelBlock) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.uncompressed
}

// inflateLocked распаковывает данные блока. Вызывается под b.mu.
func (b *VoxelBlock) inflateLocked() error {
	if b.queue == nil {
		return fmt.Errorf("блок сжат, но очередь сжатия не задана")
	}
	raw, err := b.queue.decompress(b.compressed, b.layerSize)
	if err != nil {
		return err
	}
	if got := xxhash.Sum64(raw); got != b.sum {
		return fmt.Errorf("контрольная сумма не совпала: ожидалось %016x, получено %016x", b.sum, got)
	}
	b.uncompressed = raw
	b.compressed = nil
	b.flags |= FlagUncompressed
	return nil
}

// touchLocked обновляет LRU-метку блока. Вызывается под b.mu.
func (b *VoxelBlock) touchLocked() {
	if b.queue != nil {
		b.stamp.Store(b.queue.nextStamp())
	}
}

// allocatedLocked возвращает учитываемый размер блока. Вызывается под b.mu.
func (b *VoxelBlock) allocatedLocked() uint64 {
	return uint64(len(b.uncompressed) + len(b.compressed))
}
