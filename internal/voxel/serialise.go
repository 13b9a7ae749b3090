package voxel

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/klauspost/compress/zstd"

	"github.com/annel0/voxelmap/internal/vec"
)

// Магическая сигнатура и версия формата сериализации карт
var mapMagic = [4]byte{'V', 'X', 'M', 'P'}

const mapFormatVersion uint16 = 1

// ErrSerialiseAborted возвращается, когда наблюдатель прогресса
// запросил прерывание
var ErrSerialiseAborted = errors.New("сериализация прервана")

// SerialiseProgress наблюдает за ходом сериализации. Реализация может
// прервать операцию, вернув true из Quit.
type SerialiseProgress interface {
	Quit() bool
	SetTargetProgress(target int)
	IncrementProgress()
}

// SaveMap записывает карту в поток в бинарном формате VXMP.
// Данные регионов сжимаются zstd. progress может быть nil.
func SaveMap(w io.Writer, m *Map, progress SerialiseProgress) error {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("создание компрессора: %w", err)
	}
	defer enc.Close()

	if _, err := w.Write(mapMagic[:]); err != nil {
		return fmt.Errorf("запись сигнатуры: %w", err)
	}
	if err := writeBin(w, mapFormatVersion); err != nil {
		return err
	}

	// Заголовок карты
	if err := writeBin(w, m.resolution); err != nil {
		return err
	}
	for axis := 0; axis < 3; axis++ {
		if err := writeBin(w, m.origin.Axis(axis)); err != nil {
			return err
		}
	}
	for axis := 0; axis < 3; axis++ {
		if err := writeBin(w, int32(m.regionDims.Axis(axis))); err != nil {
			return err
		}
	}
	if err := writeBin(w, m.occupancyThreshold); err != nil {
		return err
	}

	// Метаданные карты в JSON
	infoBytes, err := json.Marshal(m.info.Snapshot())
	if err != nil {
		return fmt.Errorf("сериализация метаданных: %w", err)
	}
	if err := writeBlob(w, infoBytes); err != nil {
		return err
	}

	// Раскладка слоёв
	if err := writeBin(w, uint16(m.layout.LayerCount())); err != nil {
		return err
	}
	for i := 0; i < m.layout.LayerCount(); i++ {
		layer := m.layout.Layer(i)
		if err := writeBlob(w, []byte(layer.Name())); err != nil {
			return err
		}
		if err := writeBin(w, uint32(layer.VoxelByteSize())); err != nil {
			return err
		}
	}

	// Регионы в детерминированном порядке
	regionKeys := m.RegionKeys()
	sort.Slice(regionKeys, func(i, j int) bool {
		a, b := regionKeys[i], regionKeys[j]
		if a.Z != b.Z {
			return a.Z < b.Z
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.X < b.X
	})

	if progress != nil {
		progress.SetTargetProgress(len(regionKeys))
	}

	if err := writeBin(w, uint32(len(regionKeys))); err != nil {
		return err
	}
	for _, rk := range regionKeys {
		if progress != nil && progress.Quit() {
			return ErrSerialiseAborted
		}
		if err := saveRegion(w, m, rk, enc); err != nil {
			return fmt.Errorf("регион %v: %w", rk, err)
		}
		if progress != nil {
			progress.IncrementProgress()
		}
	}
	return nil
}

// saveRegion записывает один регион: ключ и сжатые данные слоёв
func saveRegion(w io.Writer, m *Map, rk vec.Vec3, enc *zstd.Encoder) error {
	if err := writeBin(w, int32(rk.X)); err != nil {
		return err
	}
	if err := writeBin(w, int32(rk.Y)); err != nil {
		return err
	}
	if err := writeBin(w, int32(rk.Z)); err != nil {
		return err
	}

	r := m.regionFor(rk, false)
	for layer := 0; layer < m.layout.LayerCount(); layer++ {
		b := r.blocks[layer]
		if err := b.Retain(); err != nil {
			return fmt.Errorf("слой %d: %w", layer, err)
		}
		compressed := enc.EncodeAll(b.Bytes(), nil)
		b.Release()
		if err := writeBlob(w, compressed); err != nil {
			return err
		}
	}
	return nil
}

// LoadMap читает карту из потока формата VXMP. Новые блоки
// регистрируются в очереди queue (может быть nil). progress может
// быть nil.
func LoadMap(rd io.Reader, queue *CompressionQueue, progress SerialiseProgress) (*Map, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("создание декомпрессора: %w", err)
	}
	defer dec.Close()

	var magic [4]byte
	if _, err := io.ReadFull(rd, magic[:]); err != nil {
		return nil, fmt.Errorf("чтение сигнатуры: %w", err)
	}
	if magic != mapMagic {
		return nil, fmt.Errorf("неверная сигнатура файла карты")
	}
	var version uint16
	if err := readBin(rd, &version); err != nil {
		return nil, err
	}
	if version != mapFormatVersion {
		return nil, fmt.Errorf("неподдерживаемая версия формата: %d", version)
	}

	var resolution float64
	if err := readBin(rd, &resolution); err != nil {
		return nil, err
	}
	var origin vec.Vec3Float
	for axis := 0; axis < 3; axis++ {
		var v float64
		if err := readBin(rd, &v); err != nil {
			return nil, err
		}
		origin = origin.SetAxis(axis, v)
	}
	var regionDims vec.Vec3
	for axis := 0; axis < 3; axis++ {
		var v int32
		if err := readBin(rd, &v); err != nil {
			return nil, err
		}
		regionDims = regionDims.SetAxis(axis, int(v))
	}
	var threshold float32
	if err := readBin(rd, &threshold); err != nil {
		return nil, err
	}

	m := NewMap(resolution, regionDims)
	m.SetOrigin(origin)
	m.SetOccupancyThreshold(threshold)
	m.SetCompressionQueue(queue)

	// Метаданные
	infoBytes, err := readBlob(rd)
	if err != nil {
		return nil, err
	}
	var info map[string]interface{}
	if err := json.Unmarshal(infoBytes, &info); err != nil {
		return nil, fmt.Errorf("разбор метаданных: %w", err)
	}
	for k, v := range info {
		m.info.Set(k, v)
	}

	// Раскладка слоёв: слой занятости уже создан конструктором
	var layerCount uint16
	if err := readBin(rd, &layerCount); err != nil {
		return nil, err
	}
	for i := 0; i < int(layerCount); i++ {
		nameBytes, err := readBlob(rd)
		if err != nil {
			return nil, err
		}
		var cellSize uint32
		if err := readBin(rd, &cellSize); err != nil {
			return nil, err
		}
		name := string(nameBytes)
		if m.layout.LayerIndex(name) < 0 {
			m.layout.AddLayer(name, int(cellSize))
		}
	}

	var regionCount uint32
	if err := readBin(rd, &regionCount); err != nil {
		return nil, err
	}
	if progress != nil {
		progress.SetTargetProgress(int(regionCount))
	}

	for i := 0; i < int(regionCount); i++ {
		if progress != nil && progress.Quit() {
			return nil, ErrSerialiseAborted
		}
		if err := loadRegion(rd, m, dec); err != nil {
			return nil, fmt.Errorf("регион %d: %w", i, err)
		}
		if progress != nil {
			progress.IncrementProgress()
		}
	}
	return m, nil
}

// loadRegion читает один регион и восстанавливает его блоки
func loadRegion(rd io.Reader, m *Map, dec *zstd.Decoder) error {
	var rk vec.Vec3
	for axis := 0; axis < 3; axis++ {
		var v int32
		if err := readBin(rd, &v); err != nil {
			return err
		}
		rk = rk.SetAxis(axis, int(v))
	}

	r := m.regionFor(rk, true)
	for layer := 0; layer < m.layout.LayerCount(); layer++ {
		compressed, err := readBlob(rd)
		if err != nil {
			return err
		}
		expected := m.layout.Layer(layer).LayerByteSize(m.regionDims)
		raw, err := dec.DecodeAll(compressed, make([]byte, 0, expected))
		if err != nil {
			return fmt.Errorf("распаковка слоя %d: %w", layer, err)
		}
		if len(raw) != expected {
			return fmt.Errorf("размер слоя %d: ожидалось %d, получено %d", layer, expected, len(raw))
		}
		b := r.blocks[layer]
		if err := b.Retain(); err != nil {
			return err
		}
		copy(b.Bytes(), raw)
		b.Release()
	}
	return nil
}

// writeBin пишет значение фиксированного размера в little-endian
func writeBin(w io.Writer, v interface{}) error {
	if err := binary.Write(w, binary.LittleEndian, v); err != nil {
		return fmt.Errorf("запись поля: %w", err)
	}
	return nil
}

// readBin читает значение фиксированного размера в little-endian
func readBin(rd io.Reader, v interface{}) error {
	if err := binary.Read(rd, binary.LittleEndian, v); err != nil {
		return fmt.Errorf("чтение поля: %w", err)
	}
	return nil
}

// writeBlob пишет срез байт с префиксом длины
func writeBlob(w io.Writer, b []byte) error {
	if err := writeBin(w, uint32(len(b))); err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("запись данных: %w", err)
	}
	return nil
}

// readBlob читает срез байт с префиксом длины
func readBlob(rd io.Reader) ([]byte, error) {
	var n uint32
	if err := readBin(rd, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(rd, b); err != nil {
		return nil, fmt.Errorf("чтение данных: %w", err)
	}
	return b, nil
}
