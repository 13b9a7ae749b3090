package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/disintegration/imaging"

	"github.com/annel0/voxelmap/internal/config"
	"github.com/annel0/voxelmap/internal/heightmap"
	"github.com/annel0/voxelmap/internal/heightmap/hmimage"
	"github.com/annel0/voxelmap/internal/logging"
	"github.com/annel0/voxelmap/internal/observability"
	"github.com/annel0/voxelmap/internal/progress"
	"github.com/annel0/voxelmap/internal/storage"
	"github.com/annel0/voxelmap/internal/vec"
	"github.com/annel0/voxelmap/internal/voxel"
)

func main() {
	var (
		configPath = flag.String("config", "", "путь к YAML конфигурации")
		mapID      = flag.String("map", "", "идентификатор карты в хранилище")
		outPath    = flag.String("out", "heightmap.png", "путь к PNG изображению")
		mode       = flag.String("mode", "heights", "режим изображения: heights|normals|trav")
		bits       = flag.Int("bits", 8, "глубина серого для heights: 8 или 16")
		angle      = flag.Float64("angle", 45.0, "предельный угол уклона для trav, градусы")
		refX       = flag.Float64("ref-x", 0, "опорная позиция X")
		refY       = flag.Float64("ref-y", 0, "опорная позиция Y")
		refZ       = flag.Float64("ref-z", 0, "опорная позиция Z")
	)
	flag.Parse()

	if err := logging.InitDefaultLogger("hm2img"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	if *mapID == "" {
		logging.Error("❌ Не указан идентификатор карты (-map)")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	ctx := context.Background()

	// Трассировка этапов (опционально)
	if cfg.Metrics.Telemetry {
		shutdown, err := observability.InitTelemetry(ctx, "hm2img")
		if err != nil {
			logging.Warn("⚠️ Телеметрия недоступна: %v", err)
		} else {
			defer shutdown(ctx)
		}
	}

	// Прерывание по сигналу наблюдается между этапами; во время
	// загрузки карты сигнал передаётся наблюдателю прогресса
	loadMonitor := progress.NewMonitor("загрузка карты")
	interrupted := make(chan os.Signal, 1)
	signal.Notify(interrupted, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-interrupted
		logging.Warn("⚠️ Получен сигнал, прерывание")
		loadMonitor.RequestQuit()
	}()
	aborted := loadMonitor.Quit

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

	if cfg.Metrics.Enabled {
		exporter := observability.NewMetricsExporter(queue)
		exporter.Start(cfg.Metrics.GetMetricsPort())
		defer exporter.Stop()
	}

	// === ЗАГРУЗКА КАРТЫ ===
	store, err := storage.NewMapStore(cfg.Storage.GetDataPath())
	if err != nil {
		log.Fatalf("❌ Ошибка открытия хранилища: %v", err)
	}
	defer store.Close()

	_, endLoad := observability.StartSpan(ctx, "load-map")
	src, err := store.LoadMap(*mapID, queue, loadMonitor)
	endLoad()
	if err != nil {
		logging.Error("❌ Ошибка загрузки карты %s: %v", *mapID, err)
		log.Fatalf("❌ Ошибка загрузки карты: %v", err)
	}
	logging.Info("📦 Карта %s загружена: %d регионов, воксель %.2f",
		*mapID, src.RegionCount(), src.Resolution())

	if aborted() {
		os.Exit(1)
	}

	// === ПОСТРОЕНИЕ ТЕПЛОВОЙ КАРТЫ ВЫСОТ ===
	upAxis, err := heightmap.ParseUpAxis(cfg.Heightmap.UpAxis)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	hm := heightmap.NewHeightmap(src.Resolution(), cfg.Heightmap.MinClearance, upAxis, 0)
	hm.SetOccupancyMap(src)
	hm.SetCeiling(cfg.Heightmap.Ceiling)
	hm.SetGenerateVirtualSurface(cfg.Heightmap.VirtualSurface)
	hm.SetUseFloodFill(cfg.Heightmap.FloodFill)
	hm.SetLocalCacheExtents(cfg.Heightmap.LocalCacheExtents)
	hm.SetThreadCount(cfg.Heightmap.ThreadCount)
	hm.SetIgnoreSubVoxelPositioning(cfg.Heightmap.NoVoxelMean)

	refPos := vec.Vec3Float{X: *refX, Y: *refY, Z: *refZ}

	_, endBuild := observability.StartSpan(ctx, "build-heightmap")
	err = hm.BuildHeightmap(refPos, voxel.NullAABB())
	endBuild()
	if err != nil {
		logging.Error("❌ Ошибка построения тепловой карты высот: %v", err)
		log.Fatalf("❌ Ошибка построения: %v", err)
	}

	if aborted() {
		os.Exit(1)
	}

	// === ЭКСПОРТ ИЗОБРАЖЕНИЯ ===
	opts := hmimage.Options{Bits: *bits, TraverseAngle: *angle}
	switch *mode {
	case "heights":
		opts.Mode = hmimage.ModeHeights
	case "normals":
		opts.Mode = hmimage.ModeNormals
	case "trav":
		opts.Mode = hmimage.ModeTraversability
	default:
		log.Fatalf("❌ Неизвестный режим изображения: %s", *mode)
	}

	_, endRender := observability.StartSpan(ctx, "render-image")
	img, err := hmimage.Render(hm, opts)
	endRender()
	if err != nil {
		log.Fatalf("❌ Ошибка рендеринга: %v", err)
	}

	if err := imaging.Save(img, *outPath); err != nil {
		log.Fatalf("❌ Ошибка записи изображения: %v", err)
	}
	logging.Info("✅ Изображение сохранено: %s", *outPath)
}
