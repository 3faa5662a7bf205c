package transfer

// The size budgeter picks a chunk length that keeps every encoded chunk
// envelope under the relay's hard message ceiling. Chunk payload bytes are
// base64-encoded by the JSON codec (x4/3) and wrapped in envelope framing;
// both inflations are budgeted up front so a correctly sized chunk can
// never be rejected by the relay.

const (
	// base64Overhead is the fixed binary-to-text inflation of the payload.
	base64Overhead = 4.0 / 3.0
	// framingOverhead covers the envelope's JSON field framing, measured
	// against the largest realistic field values with headroom.
	framingOverhead = 1.15

	encodedOverhead = base64Overhead * framingOverhead
)

// ComputeChunkSize returns the chunk length for a payload of the given
// total length. Pure and deterministic: the same inputs always yield the
// same chunk length, and chunkLength x encodedOverhead never exceeds the
// configured message ceiling. The upper bound scales step-wise with
// payload size so small payloads use small chunks.
func ComputeChunkSize(payloadLength int64, cfg *TransferConfig) int32 {
	if payloadLength <= 0 {
		return 0
	}

	budget := int32(float64(cfg.MessageCeiling) / encodedOverhead)

	tier := chunkSizeTier(payloadLength, cfg)
	size := tier
	if size > budget {
		size = budget
	}
	if size < cfg.MinChunkSize && payloadLength >= int64(cfg.MinChunkSize) {
		size = cfg.MinChunkSize
	}
	if int64(size) > payloadLength {
		size = int32(payloadLength)
	}
	return size
}

// chunkSizeTier maps payload size onto a chunk-length ceiling: small
// payloads get small chunks, very large payloads get larger ones, capped
// at the configured maximum.
func chunkSizeTier(payloadLength int64, cfg *TransferConfig) int32 {
	var tier int32
	switch {
	case payloadLength <= 1<<20: // 1 MiB
		tier = 16 * 1024
	case payloadLength <= 64<<20: // 64 MiB
		tier = 64 * 1024
	default:
		tier = 128 * 1024
	}
	if tier > cfg.MaxChunkSize {
		tier = cfg.MaxChunkSize
	}
	return tier
}

// ChunkCount returns the dense chunk count for a payload at the given
// chunk length.
func ChunkCount(payloadLength int64, chunkLength int32) int {
	if payloadLength <= 0 || chunkLength <= 0 {
		return 0
	}
	count := int(payloadLength / int64(chunkLength))
	if payloadLength%int64(chunkLength) != 0 {
		count++
	}
	return count
}
