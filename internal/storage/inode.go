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
	"maps"
	"time"
)

// Inode is a named file mapping to an ordered list of block ids
type Inode struct {
	ID         uint64
	Name       string
	Size       int64
	BlockIDs   []uint32
	Versions   []*Version
	CreatedAt  time.Time
	ModifiedAt time.Time

	Policy      Policy
	PolicySince time.Time
	Attrs       map[string]string
}

// clone copies the block list, the version list and the attributes.
// Versions themselves are shared: a *Version is a single claim holder
// wherever it appears.
func (n *Inode) clone() *Inode {
	c := *n
	c.BlockIDs = append([]uint32(nil), n.BlockIDs...)
	c.Versions = append([]*Version(nil), n.Versions...)
	c.Attrs = maps.Clone(n.Attrs)
	return &c
}

// FileInfo summarizes an inode for listings
type FileInfo struct {
	ID           uint64    `json:"id"`
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	BlockCount   int       `json:"blocks"`
	VersionCount int       `json:"versions"`
	CreatedAt    time.Time `json:"created_at"`
	ModifiedAt   time.Time `json:"modified_at"`

	Policy      string            `json:"policy,omitempty"`
	PolicySince *time.Time        `json:"policy_since,omitempty"`
	Attrs       map[string]string `json:"attrs,omitempty"`
}

func (n *Inode) info() FileInfo {
	fi := FileInfo{
		ID:           n.ID,
		Name:         n.Name,
		Size:         n.Size,
		BlockCount:   len(n.BlockIDs),
		VersionCount: len(n.Versions),
		CreatedAt:    n.CreatedAt,
		ModifiedAt:   n.ModifiedAt,
		Attrs:        maps.Clone(n.Attrs),
	}
	if n.Policy != PolicyNone {
		since := n.PolicySince
		fi.Policy = n.Policy.String()
		fi.PolicySince = &since
	}
	return fi
}

// fileTable holds inodes in creation order. Names are unique.
type fileTable struct {
	inodes []*Inode
	nextID uint64
}

func (t *fileTable) lookup(name string) *Inode {
	for _, n := range t.inodes {
		if n.Name == name {
			return n
		}
	}
	return nil
}

func (t *fileTable) remove(name string) *Inode {
	for i, n := range t.inodes {
		if n.Name == name {
			t.inodes = append(t.inodes[:i], t.inodes[i+1:]...)
			return n
		}
	}
	return nil
}
