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
	"bytes"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"cowfs/internal/common"
)

// Policy restricts how a file's content may change
type Policy int

const (
	// PolicyNone places no restriction on the file
	PolicyNone Policy = iota
	// PolicyReadOnly refuses every write and rollback
	PolicyReadOnly
	// PolicyAppendOnly accepts a write only if it keeps the current content as a prefix
	PolicyAppendOnly
	// PolicyWORM accepts writes while the file is empty. Once set it cannot be lifted.
	PolicyWORM
)

// Extended attribute limits
const (
	MaxAttrs        = 20
	MaxAttrKeyLen   = 63
	MaxAttrValueLen = 255
)

func (p Policy) String() string {
	switch p {
	case PolicyReadOnly:
		return "read-only"
	case PolicyAppendOnly:
		return "append-only"
	case PolicyWORM:
		return "worm"
	default:
		return "none"
	}
}

// ParsePolicy accepts none, read-only, append-only and worm (case insensitive)
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "":
		return PolicyNone, nil
	case "read-only", "readonly", "ro":
		return PolicyReadOnly, nil
	case "append-only", "append":
		return PolicyAppendOnly, nil
	case "worm":
		return PolicyWORM, nil
	default:
		return 0, fmt.Errorf("unknown policy %q: %w", s, common.ErrInvalidArgument)
	}
}

// checkWrite reports whether data may replace n's current content.
// Caller holds e.mu.
func (e *Engine) checkWrite(n *Inode, data []byte) error {
	switch n.Policy {
	case PolicyNone:
		return nil
	case PolicyAppendOnly:
		if bytes.HasPrefix(data, e.contentOf(n)) {
			return nil
		}
	case PolicyWORM:
		if n.Size == 0 {
			return nil
		}
	}
	return fmt.Errorf("file %q is %s: %w", n.Name, n.Policy, common.ErrImmutable)
}

// contentOf concatenates the payloads of n's blocks. Caller holds e.mu.
func (e *Engine) contentOf(n *Inode) []byte {
	data := make([]byte, 0, n.Size)
	for _, id := range n.BlockIDs {
		payload, ok := e.pool.Payload(id)
		if !ok {
			log.Warnf("[FileTable] contentOf: name=%s block %d has no payload", n.Name, id)
			continue
		}
		data = append(data, payload...)
	}
	return data
}

// SetPolicy changes a file's policy. A WORM file keeps its policy.
func (e *Engine) SetPolicy(name string, policy Policy) (FileInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := e.files.lookup(name)
	if n == nil {
		return FileInfo{}, fmt.Errorf("file %q: %w", name, common.ErrNotFound)
	}
	if n.Policy == policy {
		return n.info(), nil
	}
	if n.Policy == PolicyWORM {
		return FileInfo{}, fmt.Errorf("file %q is worm: %w", name, common.ErrImmutable)
	}

	n.Policy = policy
	n.PolicySince = e.cfg.Now()
	log.Debugf("[FileTable] SetPolicy: name=%s policy=%s", name, policy)
	return n.info(), nil
}

// SetAttr sets an extended attribute. An existing key may be updated
// even when the file already holds MaxAttrs attributes.
func (e *Engine) SetAttr(name, key, value string) (FileInfo, error) {
	if key == "" || len(key) > MaxAttrKeyLen {
		return FileInfo{}, fmt.Errorf("attribute key must be 1-%d bytes: %w", MaxAttrKeyLen, common.ErrInvalidArgument)
	}
	if len(value) > MaxAttrValueLen {
		return FileInfo{}, fmt.Errorf("attribute value exceeds %d bytes: %w", MaxAttrValueLen, common.ErrInvalidArgument)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	n := e.files.lookup(name)
	if n == nil {
		return FileInfo{}, fmt.Errorf("file %q: %w", name, common.ErrNotFound)
	}
	if _, ok := n.Attrs[key]; !ok && len(n.Attrs) >= MaxAttrs {
		return FileInfo{}, fmt.Errorf("file %q already has %d attributes: %w", name, MaxAttrs, common.ErrInvalidArgument)
	}
	if n.Attrs == nil {
		n.Attrs = make(map[string]string)
	}
	n.Attrs[key] = value
	log.Debugf("[FileTable] SetAttr: name=%s key=%s", name, key)
	return n.info(), nil
}

// GetAttr returns one extended attribute of a file
func (e *Engine) GetAttr(name, key string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := e.files.lookup(name)
	if n == nil {
		return "", fmt.Errorf("file %q: %w", name, common.ErrNotFound)
	}
	value, ok := n.Attrs[key]
	if !ok {
		return "", fmt.Errorf("file %q attribute %q: %w", name, key, common.ErrNotFound)
	}
	return value, nil
}
