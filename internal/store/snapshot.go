// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"github.com/pdiddy/review-engine/pkg/types"
)

// zstdEncoder and zstdDecoder are reused across calls; both are safe
// for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("store: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("store: zstd decoder initialization failed: " + err.Error())
	}
}

// EncodeSnapshot serializes a record set to canonical bytes: records
// sorted by id, JSON-encoded. Two equal record sets always produce
// identical bytes, so snapshot equality and content hashes are stable.
func EncodeSnapshot(recs []*types.Record) ([]byte, error) {
	sorted := make([]*types.Record, len(recs))
	copy(sorted, recs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	data, err := json.Marshal(sorted)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot parses canonical snapshot bytes back into records.
func DecodeSnapshot(data []byte) ([]*types.Record, error) {
	var recs []*types.Record
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return recs, nil
}

// HashRecords returns the hex BLAKE3 digest of the canonical snapshot
// encoding. This is the content hash bound into every commit for
// tamper and corruption detection.
func HashRecords(recs []*types.Record) (string, error) {
	data, err := EncodeSnapshot(recs)
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// CompressSnapshot compresses canonical snapshot bytes for storage.
func CompressSnapshot(data []byte) []byte {
	return zstdEncoder.EncodeAll(data, nil)
}

// DecompressSnapshot reverses CompressSnapshot.
func DecompressSnapshot(data []byte) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing snapshot: %w", err)
	}
	return out, nil
}
