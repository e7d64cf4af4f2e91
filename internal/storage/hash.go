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
	"encoding/hex"

	"github.com/minio/sha256-simd"
)

// ContentHash identifies block content for deduplication
type ContentHash [sha256.Size]byte

// HashContent computes the SHA-256 of the exact bytes, empty input included
func HashContent(data []byte) ContentHash {
	return sha256.Sum256(data)
}

// String returns the full hex encoding
func (h ContentHash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns the first 12 hex digits, enough for logs and listings
func (h ContentHash) Short() string {
	return hex.EncodeToString(h[:6])
}
