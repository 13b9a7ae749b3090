package main

import (
	"flag"
	"log"

	"github.com/annel0/voxelmap/internal/config"
	"github.com/annel0/voxelmap/internal/logging"
	"github.com/annel0/voxelmap/internal/progress"
	"github.com/annel0/voxelmap/internal/storage"
	"github.com/annel0/voxelmap/internal/terrain"
	"github.com/annel0/voxelmap/internal/vec"
	"github.com/annel0/voxelmap/internal/voxel"
)

func main() {
	var (
		configPath = flag.String("config", "", "путь к YAML конфигурации")
		name       = flag.String("name", "terrain", "имя сохраняемой карты")
		size       = flag.Int("size", 256, "размер карты в колонках")
		heightVal  = flag.Float64("height", 12.0, "максимальная высота рельефа")
		observed   = flag.Float64("observed", 20.0, "наблюдавшаяся высота колонок")
		resolution = flag.Float64("res", 0.25, "размер вокселя")
		seed       = flag.Int64("seed", 42, "сид генератора шума")
		useMean    = flag.Bool("mean", true, "хранить субвоксельные центроиды")
	)
	flag.Parse()

	if err := logging.InitDefaultLogger("genmap"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Error("❌ Ошибка загрузки конфигурации: %v", err)
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	logging.Info("🌄 Генерация рельефа: %dx%d колонок, воксель %.2f, сид %d",
		*size, *size, *resolution, *seed)

	// Очередь сжатия удерживает рабочий набор блоков в памяти
	queue, err := voxel.NewCompressionQueue(false)
	if err != nil {
		log.Fatalf("❌ Ошибка создания очереди сжатия: %v", err)
	}
	defer queue.Stop()
	if cfg.Compression.HighWaterMark > 0 {
		queue.SetHighWaterMark(cfg.Compression.HighWaterMark)
	}
	if cfg.Compression.LowWaterMark > 0 {
		queue.SetLowWaterMark(cfg.Compression.LowWaterMark)
	}

	m := voxel.NewMap(*resolution, vec.Vec3{})
	m.SetCompressionQueue(queue)
	if *useMean {
		m.EnableVoxelMean()
	}

	gen := terrain.NewGenerator(*seed)
	gen.Populate(m, *size, *size, *heightVal, *observed)
	logging.Info("🗺️ Карта заполнена: %d регионов", m.RegionCount())

	store, err := storage.NewMapStore(cfg.Storage.GetDataPath())
	if err != nil {
		logging.Error("❌ Ошибка открытия хранилища: %v", err)
		log.Fatalf("❌ Ошибка открытия хранилища: %v", err)
	}
	defer store.Close()

	id, err := store.SaveMap(*name, m, progress.NewMonitor("сохранение карты"))
	if err != nil {
		logging.Error("❌ Ошибка сохранения карты: %v", err)
		log.Fatalf("❌ Ошибка сохранения карты: %v", err)
	}

	logging.Info("✅ Карта сохранена: id=%s, name=%s", id, *name)
}
