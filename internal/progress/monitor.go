package progress

import (
	"sync/atomic"

	"github.com/annel0/voxelmap/internal/logging"
)

// Monitor — наблюдатель прогресса длительных операций (сериализация
// карт, построение). Реализует voxel.SerialiseProgress. Прерывание
// запрашивается извне (обычно обработчиком сигналов) через
// RequestQuit.
type Monitor struct {
	label    string
	target   atomic.Int64
	done     atomic.Int64
	lastTick atomic.Int64
	quit     atomic.Bool
}

// NewMonitor создаёт наблюдатель с меткой для логов
func NewMonitor(label string) *Monitor {
	return &Monitor{label: label}
}

// Quit сообщает операции, что запрошено прерывание
func (m *Monitor) Quit() bool {
	return m.quit.Load()
}

// RequestQuit запрашивает прерывание текущей операции
func (m *Monitor) RequestQuit() {
	m.quit.Store(true)
}

// SetTargetProgress задаёт целевое количество шагов
func (m *Monitor) SetTargetProgress(target int) {
	m.target.Store(int64(target))
	m.done.Store(0)
	m.lastTick.Store(0)
}

// IncrementProgress отмечает завершение одного шага.
// Каждые 10% пишется строка прогресса.
func (m *Monitor) IncrementProgress() {
	done := m.done.Add(1)
	target := m.target.Load()
	if target <= 0 {
		return
	}
	tick := done * 10 / target
	if tick > m.lastTick.Load() {
		m.lastTick.Store(tick)
		logging.Info("⏳ %s: %d%% (%d/%d)", m.label, tick*10, done, target)
	}
}
