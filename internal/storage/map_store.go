package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"

	"github.com/annel0/voxelmap/internal/voxel"
)

// Префиксы ключей BadgerDB
const (
	mapKeyPrefix  = "map:"
	metaKeyPrefix = "meta:"
)

// MapStore представляет собой хранилище сериализованных воксельных
// карт поверх BadgerDB. Каждая карта получает UUID и запись
// метаданных для листинга.
type MapStore struct {
	db      *badger.DB
	dbPath  string
	mutex   sync.RWMutex
	isReady bool
}

// MapRecord содержит метаданные сохранённой карты
type MapRecord struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	SavedAt    time.Time `json:"saved_at"`
	Regions    int       `json:"regions"`
	Resolution float64   `json:"resolution"`
	SizeBytes  int       `json:"size_bytes"`
}

// NewMapStore создает новое хранилище карт
func NewMapStore(dataPath string) (*MapStore, error) {
	dbPath := filepath.Join(dataPath, "maps")
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	return &MapStore{
		db:      db,
		dbPath:  dbPath,
		isReady: true,
	}, nil
}

// Close закрывает хранилище данных
func (ms *MapStore) Close() error {
	ms.mutex.Lock()
	defer ms.mutex.Unlock()

	if !ms.isReady {
		return nil
	}

	ms.isReady = false
	return ms.db.Close()
}

// SaveMap сериализует карту и сохраняет её под новым UUID.
// Возвращает идентификатор сохранённой карты. progress может быть nil.
func (ms *MapStore) SaveMap(name string, m *voxel.Map, progress voxel.SerialiseProgress) (string, error) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	if !ms.isReady {
		return "", fmt.Errorf("хранилище не готово")
	}

	var buf bytes.Buffer
	if err := voxel.SaveMap(&buf, m, progress); err != nil {
		return "", fmt.Errorf("сериализация карты: %w", err)
	}

	id := uuid.New().String()
	record := MapRecord{
		ID:         id,
		Name:       name,
		SavedAt:    time.Now().UTC(),
		Regions:    m.RegionCount(),
		Resolution: m.Resolution(),
		SizeBytes:  buf.Len(),
	}
	meta, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("сериализация метаданных: %w", err)
	}

	err = ms.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(mapKeyPrefix+id), buf.Bytes()); err != nil {
			return err
		}
		return txn.Set([]byte(metaKeyPrefix+id), meta)
	})
	if err != nil {
		return "", fmt.Errorf("запись карты в BadgerDB: %w", err)
	}
	return id, nil
}

// LoadMap загружает карту по идентификатору. Блоки загруженной карты
// регистрируются в очереди queue (может быть nil). progress может
// быть nil.
func (ms *MapStore) LoadMap(id string, queue *voxel.CompressionQueue, progress voxel.SerialiseProgress) (*voxel.Map, error) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	if !ms.isReady {
		return nil, fmt.Errorf("хранилище не готово")
	}

	var raw []byte
	err := ms.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(mapKeyPrefix + id))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("чтение карты %s: %w", id, err)
	}

	m, err := voxel.LoadMap(bytes.NewReader(raw), queue, progress)
	if err != nil {
		return nil, fmt.Errorf("десериализация карты %s: %w", id, err)
	}
	return m, nil
}

// ListMaps возвращает метаданные всех сохранённых карт
func (ms *MapStore) ListMaps() ([]MapRecord, error) {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	if !ms.isReady {
		return nil, fmt.Errorf("хранилище не готово")
	}

	var records []MapRecord
	err := ms.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(metaKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var rec MapRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					return err
				}
				records = append(records, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("листинг карт: %w", err)
	}
	return records, nil
}

// DeleteMap удаляет карту и её метаданные
func (ms *MapStore) DeleteMap(id string) error {
	ms.mutex.RLock()
	defer ms.mutex.RUnlock()

	if !ms.isReady {
		return fmt.Errorf("хранилище не готово")
	}

	return ms.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(mapKeyPrefix + id)); err != nil {
			return err
		}
		return txn.Delete([]byte(metaKeyPrefix + id))
	})
}
