package config

import (
	"strings"

	"github.com/BurntSushi/toml"
	jlconfig "github.com/JeremyLoy/config"
	"github.com/TheBitDrifter/depot"
	"github.com/TheBitDrifter/depot/alloc"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Allocator names accepted by storage.allocator.
const (
	AllocatorDynamic = "dynamic"
	AllocatorHeap    = "heap"
	AllocatorArena   = "arena"
)

type Config struct {
	Storage StorageConfig `toml:"storage"`
	Heap    HeapConfig    `toml:"heap"`
	Arena   ArenaConfig   `toml:"arena"`
	Logging LoggingConfig `toml:"logging"`
}

type StorageConfig struct {
	ChunkCapacity int    `toml:"chunk_capacity" config:"DEPOT_CHUNK_CAPACITY"`
	BatchSize     int    `toml:"batch_size" config:"DEPOT_BATCH_SIZE"`
	Allocator     string `toml:"allocator" config:"DEPOT_ALLOCATOR"` // "dynamic", "heap" or "arena"
	Thrash        bool   `toml:"thrash" config:"DEPOT_THRASH"`
	TrackOrigins  bool   `toml:"track_origins" config:"DEPOT_TRACK_ORIGINS"`
}

type HeapConfig struct {
	ClassBase int `toml:"class_base" config:"DEPOT_HEAP_CLASS_BASE"`
	Classes   int `toml:"classes" config:"DEPOT_HEAP_CLASSES"`
	PageScale int `toml:"page_scale" config:"DEPOT_HEAP_PAGE_SCALE"`
}

type ArenaConfig struct {
	Size int `toml:"size" config:"DEPOT_ARENA_SIZE"` // bytes
}

type LoggingConfig struct {
	Level  string `toml:"level" config:"DEPOT_LOG_LEVEL"`
	Format string `toml:"format" config:"DEPOT_LOG_FORMAT"` // "json" or "console"
}

// Load reads the TOML file at path over the defaults and then applies
// DEPOT_* environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, eris.Wrapf(err, "parse config %s", path)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, eris.Errorf("config %s: unknown keys %s", path, strings.Join(keys, ", "))
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Each section is loaded on its own so the variable names are exactly the
// tags, without a section prefix.
func (c *Config) applyEnv() error {
	sections := []any{&c.Storage, &c.Heap, &c.Arena, &c.Logging}
	for _, section := range sections {
		if err := jlconfig.FromEnv().To(section); err != nil {
			return eris.Wrap(err, "environment overrides")
		}
	}
	return nil
}

func Defaults() *Config {
	return &Config{
		Storage: StorageConfig{
			ChunkCapacity: depot.DefaultChunkCapacity,
			BatchSize:     depot.DefaultBatchSize,
			Allocator:     AllocatorDynamic,
		},
		Heap: HeapConfig{
			ClassBase: alloc.DefaultClassBase,
			Classes:   alloc.DefaultClasses,
			PageScale: alloc.DefaultPageScale,
		},
		Arena: ArenaConfig{
			Size: 64 << 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

func (c *Config) Validate() error {
	switch {
	case c.Storage.ChunkCapacity <= 0:
		return eris.Errorf("storage.chunk_capacity must be positive, got %d", c.Storage.ChunkCapacity)
	case c.Storage.BatchSize <= 0:
		return eris.Errorf("storage.batch_size must be positive, got %d", c.Storage.BatchSize)
	case c.Heap.ClassBase < alloc.Alignment:
		return eris.Errorf("heap.class_base must be at least %d, got %d", alloc.Alignment, c.Heap.ClassBase)
	case c.Heap.Classes < 1 || c.Heap.Classes > alloc.MaxClasses:
		return eris.Errorf("heap.classes must be in [1, %d], got %d", alloc.MaxClasses, c.Heap.Classes)
	case c.Heap.PageScale < 2:
		return eris.Errorf("heap.page_scale must be at least 2, got %d", c.Heap.PageScale)
	case c.Arena.Size < alloc.Alignment:
		return eris.Errorf("arena.size must be at least %d, got %d", alloc.Alignment, c.Arena.Size)
	}
	switch c.Storage.Allocator {
	case AllocatorDynamic, AllocatorHeap, AllocatorArena:
	default:
		return eris.Errorf("storage.allocator: unknown allocator %q", c.Storage.Allocator)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return eris.Errorf("logging.format: unknown format %q", c.Logging.Format)
	}
	return nil
}

// NewAllocator builds the allocator named by storage.allocator. The caller
// closes it after the storage using it.
func (c *Config) NewAllocator(logger *zap.Logger) (alloc.Allocator, error) {
	opts := []alloc.Option{
		alloc.WithLogger(logger),
		alloc.WithThrash(c.Storage.Thrash),
		alloc.WithOriginTracking(c.Storage.TrackOrigins),
	}
	switch c.Storage.Allocator {
	case AllocatorHeap:
		opts = append(opts,
			alloc.WithClassBase(c.Heap.ClassBase),
			alloc.WithClasses(c.Heap.Classes),
			alloc.WithPageScale(c.Heap.PageScale),
		)
		return alloc.NewHeap(nil, opts...)
	case AllocatorArena:
		return alloc.NewArena(nil, c.Arena.Size, opts...)
	case AllocatorDynamic:
		return alloc.NewDynamic(opts...)
	}
	return nil, eris.Errorf("unknown allocator %q", c.Storage.Allocator)
}

// DepotConfig returns the storage sizing backed by a.
func (c *Config) DepotConfig(a alloc.Allocator, logger *zap.Logger) depot.Config {
	return depot.Config{
		ChunkCapacity: c.Storage.ChunkCapacity,
		BatchSize:     c.Storage.BatchSize,
		Allocator:     a,
		Logger:        logger,
	}
}
