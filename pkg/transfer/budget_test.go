package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeChunkSize_FitsUnderCeiling(t *testing.T) {
	cfg := DefaultTransferConfig()

	payloads := []int64{
		1,
		512,
		64 * 1024,
		1 << 20,
		10 << 20,
		64 << 20,
		500 << 20,
	}
	for _, payload := range payloads {
		size := ComputeChunkSize(payload, cfg)
		assert.Greater(t, size, int32(0), "payload %d", payload)
		encoded := int32(float64(size) * encodedOverhead)
		assert.LessOrEqual(t, encoded, cfg.MessageCeiling,
			"payload %d: encoded chunk must fit the message ceiling", payload)
	}
}

func TestComputeChunkSize_Deterministic(t *testing.T) {
	cfg := DefaultTransferConfig()
	first := ComputeChunkSize(10<<20, cfg)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ComputeChunkSize(10<<20, cfg))
	}
}

func TestComputeChunkSize_Tiers(t *testing.T) {
	cfg := DefaultTransferConfig()

	tests := []struct {
		name    string
		payload int64
		want    int32
	}{
		{"small payload small chunks", 1 << 20, 16 * 1024},
		{"medium payload medium chunks", 32 << 20, 64 * 1024},
		{"large payload large chunks", 256 << 20, 128 * 1024},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeChunkSize(tt.payload, cfg))
		})
	}
}

func TestComputeChunkSize_TightCeiling(t *testing.T) {
	cfg := DefaultTransferConfig()
	cfg.MessageCeiling = 64 * 1024

	// The ceiling, not the tier, must bound the chunk here.
	size := ComputeChunkSize(256<<20, cfg)
	assert.Less(t, size, int32(64*1024))
	assert.LessOrEqual(t, int32(float64(size)*encodedOverhead), cfg.MessageCeiling)
}

func TestComputeChunkSize_SmallPayload(t *testing.T) {
	cfg := DefaultTransferConfig()

	t.Run("payload below min chunk size", func(t *testing.T) {
		assert.Equal(t, int32(100), ComputeChunkSize(100, cfg))
	})
	t.Run("empty payload", func(t *testing.T) {
		assert.Equal(t, int32(0), ComputeChunkSize(0, cfg))
	})
}

func TestChunkCount(t *testing.T) {
	tests := []struct {
		name    string
		payload int64
		chunk   int32
		want    int
	}{
		{"exact multiple", 64 * 1024, 16 * 1024, 4},
		{"with remainder", 64*1024 + 1, 16 * 1024, 5},
		{"single chunk", 100, 16 * 1024, 1},
		{"empty", 0, 16 * 1024, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ChunkCount(tt.payload, tt.chunk))
		})
	}
}
