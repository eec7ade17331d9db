package persist

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/vk/chunkforge/internal/chunk"
)

// recordVersion tags the on-disk payload encoding. Bump on layout changes.
const recordVersion = 1

// maxStructureSeeds bounds how many structure seeds a decoded record may
// claim, so a corrupt length field cannot drive a huge allocation.
const maxStructureSeeds = 4096

// codec encodes payloads into zstd-compressed, versioned binary records and
// decodes them back with full validation. Decoding never assumes well-formed
// input: every failure comes back wrapped in ErrCorrupt.
type codec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newCodec() (*codec, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return &codec{enc: enc, dec: dec}, nil
}

// encode serializes a payload. A nil payload (a holder persisted before any
// commit) encodes as an empty grid.
func (c *codec) encode(p *chunk.Payload) ([]byte, error) {
	if p == nil {
		p = chunk.NewPayload()
	}
	if len(p.Heights) != chunk.Side*chunk.Side || len(p.Blocks) != chunk.Side*chunk.Side {
		return nil, fmt.Errorf("payload grids must be %d entries, got %d/%d",
			chunk.Side*chunk.Side, len(p.Heights), len(p.Blocks))
	}

	var buf bytes.Buffer
	buf.WriteByte(recordVersion)
	buf.WriteByte(p.Biome)
	var scratch [8]byte
	binary.LittleEndian.PutUint16(scratch[:2], p.LightSeeds)
	buf.Write(scratch[:2])
	for _, h := range p.Heights {
		binary.LittleEndian.PutUint16(scratch[:2], uint16(h))
		buf.Write(scratch[:2])
	}
	for _, b := range p.Blocks {
		binary.LittleEndian.PutUint16(scratch[:2], b)
		buf.Write(scratch[:2])
	}
	binary.LittleEndian.PutUint32(scratch[:4], uint32(len(p.StructureSeeds)))
	buf.Write(scratch[:4])
	for _, s := range p.StructureSeeds {
		binary.LittleEndian.PutUint64(scratch[:], s)
		buf.Write(scratch[:])
	}

	return c.enc.EncodeAll(buf.Bytes(), nil), nil
}

// decode parses a stored record body. Every malformed shape is reported as
// ErrCorrupt so callers can classify it as fatal.
func (c *codec) decode(raw []byte) (*chunk.Payload, error) {
	plain, err := c.dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %v", ErrCorrupt, err)
	}

	const gridLen = chunk.Side * chunk.Side
	// version + biome + lightSeeds + two uint16 grids + seed count
	minLen := 1 + 1 + 2 + 2*gridLen + 2*gridLen + 4
	if len(plain) < minLen {
		return nil, fmt.Errorf("%w: record truncated at %d bytes", ErrCorrupt, len(plain))
	}
	if plain[0] != recordVersion {
		return nil, fmt.Errorf("%w: unsupported record version %d", ErrCorrupt, plain[0])
	}

	p := chunk.NewPayload()
	p.Biome = plain[1]
	off := 2
	p.LightSeeds = binary.LittleEndian.Uint16(plain[off:])
	off += 2
	for i := 0; i < gridLen; i++ {
		p.Heights[i] = int16(binary.LittleEndian.Uint16(plain[off:]))
		off += 2
	}
	for i := 0; i < gridLen; i++ {
		p.Blocks[i] = binary.LittleEndian.Uint16(plain[off:])
		off += 2
	}
	seedCount := binary.LittleEndian.Uint32(plain[off:])
	off += 4
	if seedCount > maxStructureSeeds {
		return nil, fmt.Errorf("%w: implausible structure seed count %d", ErrCorrupt, seedCount)
	}
	if len(plain) != off+int(seedCount)*8 {
		return nil, fmt.Errorf("%w: record length %d does not match %d seeds", ErrCorrupt, len(plain), seedCount)
	}
	for i := uint32(0); i < seedCount; i++ {
		p.StructureSeeds = append(p.StructureSeeds, binary.LittleEndian.Uint64(plain[off:]))
		off += 8
	}
	return p, nil
}
