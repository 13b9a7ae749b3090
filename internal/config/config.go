package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации инструментов voxelmap.
type Config struct {
	Storage     StorageConfig     `yaml:"storage"`
	Heightmap   HeightmapConfig   `yaml:"heightmap"`
	Compression CompressionConfig `yaml:"compression"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// StorageConfig описывает хранилище сериализованных карт
type StorageConfig struct {
	DataPath string `yaml:"data_path"`
}

// HeightmapConfig задаёт параметры построения тепловой карты высот
type HeightmapConfig struct {
	UpAxis            string  `yaml:"up_axis"`
	MinClearance      float64 `yaml:"min_clearance"`
	Ceiling           float64 `yaml:"ceiling"`
	VirtualSurface    bool    `yaml:"virtual_surface"`
	FloodFill         bool    `yaml:"flood_fill"`
	LocalCacheExtents float64 `yaml:"local_cache_extents"`
	ThreadCount       int     `yaml:"thread_count"`
	NoVoxelMean       bool    `yaml:"no_voxel_mean"`
}

// CompressionConfig задаёт отметки регулятора сжатия в байтах.
// Нулевые значения оставляют отметки по умолчанию (от объёма памяти
// системы).
type CompressionConfig struct {
	HighWaterMark uint64 `yaml:"high_water_mark"`
	LowWaterMark  uint64 `yaml:"low_water_mark"`
}

// MetricsConfig управляет экспортом Prometheus-метрик и трассировкой
type MetricsConfig struct {
	Enabled   bool `yaml:"enabled"`
	Port      int  `yaml:"port"`
	Telemetry bool `yaml:"telemetry"`
}

// GetDataPath возвращает каталог данных с поддержкой fallback значений
func (s *StorageConfig) GetDataPath() string {
	if s.DataPath != "" {
		return s.DataPath
	}
	if envVal := os.Getenv("VOXELMAP_DATA_PATH"); envVal != "" {
		return envVal
	}
	return "data"
}

// GetMetricsPort возвращает порт метрик с поддержкой fallback значений
func (m *MetricsConfig) GetMetricsPort() int {
	if m.Port > 0 {
		return m.Port
	}
	if envVal := os.Getenv("VOXELMAP_METRICS_PORT"); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}
	return 2112
}

// Load читает YAML файл конфигурации.
// Если path == "", пытается прочитать из ENV VOXELMAP_CONFIG или
// возвращает конфигурацию по умолчанию.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("VOXELMAP_CONFIG")
	}
	cfg := &Config{
		Heightmap: HeightmapConfig{
			UpAxis:       "z",
			MinClearance: 1.0,
			ThreadCount:  1,
		},
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение конфигурации %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("разбор конфигурации %s: %w", path, err)
	}
	return cfg, nil
}
