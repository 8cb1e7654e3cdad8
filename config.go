package depot

import (
	"github.com/TheBitDrifter/depot/alloc"
	"go.uber.org/zap"
)

// DefaultBatchSize is the number of entities processed per batch by the bulk
// operations.
const DefaultBatchSize = 256

// Config sizes a storage. Zero fields take their defaults.
type Config struct {
	ChunkCapacity int
	BatchSize     int

	// Allocator backs chunks and entity pool pages. When nil the storage
	// creates and owns a dynamic allocator.
	Allocator alloc.Allocator

	Logger *zap.Logger
}

func DefaultConfig() Config {
	return Config{
		ChunkCapacity: DefaultChunkCapacity,
		BatchSize:     DefaultBatchSize,
	}
}

func (c Config) withDefaults() Config {
	if c.ChunkCapacity <= 0 {
		c.ChunkCapacity = DefaultChunkCapacity
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}
