// Copyright 2024 CowFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"fmt"
	"strings"

	"github.com/golang/snappy"

	"cowfs/internal/common"
)

// Compression selects how the pool keeps payload bytes in memory.
// Hashing, dedup and reads always operate on the raw bytes.
type Compression string

const (
	CompressionNone   Compression = "none"
	CompressionSnappy Compression = "snappy"
)

// ParseCompression accepts "", "none" and "snappy" (case insensitive)
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(CompressionNone):
		return CompressionNone, nil
	case string(CompressionSnappy):
		return CompressionSnappy, nil
	default:
		return "", fmt.Errorf("unknown compression %q: %w", s, common.ErrInvalidArgument)
	}
}

// encodePayload returns the bytes to store and whether they are compressed.
// Compressed output that does not beat the raw size is discarded.
func encodePayload(c Compression, raw []byte) ([]byte, bool) {
	if c == CompressionSnappy && len(raw) > 0 {
		enc := snappy.Encode(nil, raw)
		if len(enc) < len(raw) {
			return enc, true
		}
	}
	stored := make([]byte, len(raw))
	copy(stored, raw)
	return stored, false
}

func decodePayload(stored []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return stored, nil
	}
	return snappy.Decode(nil, stored)
}
