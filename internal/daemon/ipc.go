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

package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"cowfs/internal/common"
	"cowfs/internal/storage"
	"cowfs/internal/util"
)

// Request types
const (
	RequestStatus       = "status"
	RequestStop         = "stop"
	RequestReloadConfig = "reload_config" // Reload daemon config from disk
	RequestResetMetrics = "reset_metrics"
	RequestReset        = "reset" // Rebuild the engine from current settings
	RequestVerify       = "verify"

	// File table
	RequestFileCreate = "file_create"
	RequestFileWrite  = "file_write"
	RequestFileRead   = "file_read"
	RequestFileStat   = "file_stat"
	RequestFileList   = "file_list"
	RequestFileDelete = "file_delete"

	RequestFileSetPolicy = "file_set_policy"
	RequestFileSetAttr   = "file_set_attr"
	RequestFileGetAttr   = "file_get_attr"

	RequestBlockList = "block_list"

	// Snapshot store
	RequestSnapshotCreate   = "snapshot_create"
	RequestSnapshotList     = "snapshot_list"
	RequestSnapshotRollback = "snapshot_rollback"
	RequestSnapshotDelete   = "snapshot_delete"
	RequestSnapshotTag      = "snapshot_tag"
	RequestSnapshotFind     = "snapshot_find"

	// Version store
	RequestVersionCreate   = "version_create"
	RequestVersionList     = "version_list"
	RequestVersionRollback = "version_rollback"
	RequestVersionTag      = "version_tag"
	RequestVersionFind     = "version_find"
)

// Error codes carried in Response.Code
const (
	CodeNotFound        = "not_found"
	CodeAlreadyExists   = "already_exists"
	CodeOutOfBlocks     = "out_of_blocks"
	CodeVersionNotFound = "version_not_found"
	CodeInvalidArgument = "invalid_argument"
	CodeImmutable       = "immutable"
	CodeInternal        = "internal"
)

// Request represents an IPC request
type Request struct {
	Type string `json:"type"`

	// Name is a file name for file_* and version_* requests and a
	// snapshot name for snapshot_* requests.
	Name        string `json:"name,omitempty"`
	Data        []byte `json:"data,omitempty"`     // file_write payload (base64 on the wire)
	Strategy    string `json:"strategy,omitempty"` // file_write: cow or row (default: cow)
	Description string `json:"description,omitempty"`
	Tag         string `json:"tag,omitempty"`
	VersionID   int    `json:"version_id,omitempty"`
	UsedOnly    bool   `json:"used_only,omitempty"` // block_list: skip free blocks
	Policy      string `json:"policy,omitempty"`    // file_set_policy
	Key         string `json:"key,omitempty"`       // file_set_attr, file_get_attr
	Value       string `json:"value,omitempty"`     // file_set_attr
}

// Response represents an IPC response
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
	PID     int    `json:"pid,omitempty"`
	Value   string `json:"value,omitempty"` // file_get_attr

	Status    *storage.Status         `json:"status,omitempty"`
	File      *storage.FileInfo       `json:"file,omitempty"`
	Files     []storage.FileInfo      `json:"files,omitempty"`
	Content   []byte                  `json:"content,omitempty"`
	Blocks    []storage.BlockView     `json:"blocks,omitempty"`
	Snapshot  *storage.SnapshotInfo   `json:"snapshot,omitempty"`
	Snapshots []storage.SnapshotInfo  `json:"snapshots,omitempty"`
	Version   *storage.VersionInfo    `json:"version,omitempty"`
	Versions  []storage.VersionInfo   `json:"versions,omitempty"`
	Issues    []storage.Inconsistency `json:"issues,omitempty"`
}

// ErrorCode maps an engine error to its wire code
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, common.ErrVersionNotFound):
		return CodeVersionNotFound
	case errors.Is(err, common.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, common.ErrExists):
		return CodeAlreadyExists
	case errors.Is(err, common.ErrOutOfBlocks):
		return CodeOutOfBlocks
	case errors.Is(err, common.ErrInvalidArgument):
		return CodeInvalidArgument
	case errors.Is(err, common.ErrImmutable):
		return CodeImmutable
	default:
		return CodeInternal
	}
}

// errorResponse builds a failed response for err
func errorResponse(err error) *Response {
	return &Response{Success: false, Error: err.Error(), Code: ErrorCode(err)}
}

// RemoteError is a failed response surfaced on the client side.
// errors.Is matches it against the sentinel its code came from.
type RemoteError struct {
	Op      string
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Op, e.Message)
}

// Is reports whether target is the sentinel for e.Code
func (e *RemoteError) Is(target error) bool {
	switch e.Code {
	case CodeNotFound:
		return target == common.ErrNotFound
	case CodeVersionNotFound:
		return target == common.ErrVersionNotFound || target == common.ErrNotFound
	case CodeAlreadyExists:
		return target == common.ErrExists
	case CodeOutOfBlocks:
		return target == common.ErrOutOfBlocks
	case CodeInvalidArgument:
		return target == common.ErrInvalidArgument
	case CodeImmutable:
		return target == common.ErrImmutable
	}
	return false
}

// Server is the IPC server
type Server struct {
	listener net.Listener
	handler  func(*Request) *Response
}

// NewServer creates a new IPC server
func NewServer(handler func(*Request) *Response) *Server {
	return &Server{handler: handler}
}

// Start starts the IPC server
func (s *Server) Start() error {
	// Remove existing socket
	os.Remove(SocketPath())

	listener, err := net.Listen("unix", SocketPath())
	if err != nil {
		return fmt.Errorf("failed to create socket: %w", err)
	}
	s.listener = listener

	os.Chmod(SocketPath(), 0600)

	go s.accept()

	return nil
}

// Stop stops the IPC server
func (s *Server) Stop() {
	if s.listener != nil {
		s.listener.Close()
		os.Remove(SocketPath())
	}
}

func (s *Server) accept() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return // Server stopped
		}
		go s.handleConn(conn)
	}
}

// handleConn serves requests on conn until the client hangs up
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)
	for {
		var req Request
		if err := decoder.Decode(&req); err != nil {
			return
		}
		if err := encoder.Encode(s.handler(&req)); err != nil {
			return
		}
	}
}

// Client is the IPC client
type Client struct {
	conn    net.Conn
	decoder *json.Decoder
}

// Connect connects to the daemon
func Connect() (*Client, error) {
	conn, err := net.Dial("unix", SocketPath())
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, decoder: json.NewDecoder(conn)}, nil
}

// ConnectWithRetry retries Connect while the socket refuses connections,
// which covers the window between daemon start and listen.
func ConnectWithRetry(ctx context.Context) (*Client, error) {
	return util.RetryWithResult(ctx, Connect, util.IPCRetryOptions(ctx)...)
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// Send sends a request and returns the response
func (c *Client) Send(req *Request) (*Response, error) {
	if err := json.NewEncoder(c.conn).Encode(req); err != nil {
		return nil, err
	}

	var resp Response
	if err := c.decoder.Decode(&resp); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("daemon closed connection")
		}
		return nil, err
	}

	return &resp, nil
}

// call sends req and converts a failed response into a *RemoteError
func (c *Client) call(op string, req *Request) (*Response, error) {
	resp, err := c.Send(req)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &RemoteError{Op: op, Code: resp.Code, Message: resp.Error}
	}
	return resp, nil
}

// Status returns the daemon PID and engine status
func (c *Client) Status() (*Response, error) {
	return c.call("status", &Request{Type: RequestStatus})
}

// Stop asks the daemon to shut down
func (c *Client) Stop() (*Response, error) {
	return c.Send(&Request{Type: RequestStop})
}

// ReloadConfig requests the daemon to reload its configuration from disk
func (c *Client) ReloadConfig() error {
	_, err := c.call("reload config", &Request{Type: RequestReloadConfig})
	return err
}

// ResetMetrics zeroes the daemon's operation counters
func (c *Client) ResetMetrics() error {
	_, err := c.call("reset metrics", &Request{Type: RequestResetMetrics})
	return err
}

// Reset discards every file, snapshot and block in the daemon's engine
func (c *Client) Reset() (*Response, error) {
	return c.call("reset", &Request{Type: RequestReset})
}

// Verify returns the accounting inconsistencies the engine found
func (c *Client) Verify() ([]storage.Inconsistency, error) {
	resp, err := c.call("verify", &Request{Type: RequestVerify})
	if err != nil {
		return nil, err
	}
	return resp.Issues, nil
}

// CreateFile creates an empty file
func (c *Client) CreateFile(name string) (*storage.FileInfo, error) {
	resp, err := c.call("create file", &Request{Type: RequestFileCreate, Name: name})
	if err != nil {
		return nil, err
	}
	return resp.File, nil
}

// WriteFile replaces a file's content. strategy is "cow", "row" or empty.
func (c *Client) WriteFile(name string, data []byte, strategy string) (*storage.FileInfo, error) {
	resp, err := c.call("write file", &Request{
		Type:     RequestFileWrite,
		Name:     name,
		Data:     data,
		Strategy: strategy,
	})
	if err != nil {
		return nil, err
	}
	return resp.File, nil
}

// ReadFile returns the current content of a file
func (c *Client) ReadFile(name string) ([]byte, error) {
	resp, err := c.call("read file", &Request{Type: RequestFileRead, Name: name})
	if err != nil {
		return nil, err
	}
	return resp.Content, nil
}

// StatFile returns a file's metadata without reading its blocks
func (c *Client) StatFile(name string) (*storage.FileInfo, error) {
	resp, err := c.call("stat file", &Request{Type: RequestFileStat, Name: name})
	if err != nil {
		return nil, err
	}
	return resp.File, nil
}

// ListFiles returns every file in the table
func (c *Client) ListFiles() ([]storage.FileInfo, error) {
	resp, err := c.call("list files", &Request{Type: RequestFileList})
	if err != nil {
		return nil, err
	}
	return resp.Files, nil
}

// DeleteFile removes a file and releases its blocks
func (c *Client) DeleteFile(name string) error {
	_, err := c.call("delete file", &Request{Type: RequestFileDelete, Name: name})
	return err
}

// SetPolicy changes a file's write policy (none, read-only, append-only, worm)
func (c *Client) SetPolicy(name, policy string) (*storage.FileInfo, error) {
	resp, err := c.call("set policy", &Request{Type: RequestFileSetPolicy, Name: name, Policy: policy})
	if err != nil {
		return nil, err
	}
	return resp.File, nil
}

// SetAttr sets an extended attribute on a file
func (c *Client) SetAttr(name, key, value string) (*storage.FileInfo, error) {
	resp, err := c.call("set attr", &Request{
		Type:  RequestFileSetAttr,
		Name:  name,
		Key:   key,
		Value: value,
	})
	if err != nil {
		return nil, err
	}
	return resp.File, nil
}

// GetAttr returns the value of a file's extended attribute
func (c *Client) GetAttr(name, key string) (string, error) {
	resp, err := c.call("get attr", &Request{Type: RequestFileGetAttr, Name: name, Key: key})
	if err != nil {
		return "", err
	}
	return resp.Value, nil
}

// ListBlocks returns the block map, optionally only non-free blocks
func (c *Client) ListBlocks(usedOnly bool) ([]storage.BlockView, error) {
	resp, err := c.call("list blocks", &Request{Type: RequestBlockList, UsedOnly: usedOnly})
	if err != nil {
		return nil, err
	}
	return resp.Blocks, nil
}

// CreateSnapshot captures the whole file table under name
func (c *Client) CreateSnapshot(name, description string) (*storage.SnapshotInfo, error) {
	resp, err := c.call("create snapshot", &Request{
		Type:        RequestSnapshotCreate,
		Name:        name,
		Description: description,
	})
	if err != nil {
		return nil, err
	}
	return resp.Snapshot, nil
}

// ListSnapshots returns every snapshot, oldest first
func (c *Client) ListSnapshots() ([]storage.SnapshotInfo, error) {
	resp, err := c.call("list snapshots", &Request{Type: RequestSnapshotList})
	if err != nil {
		return nil, err
	}
	return resp.Snapshots, nil
}

// RollbackSnapshot replaces the live file table with the named snapshot
func (c *Client) RollbackSnapshot(name string) (*storage.SnapshotInfo, error) {
	resp, err := c.call("rollback snapshot", &Request{Type: RequestSnapshotRollback, Name: name})
	if err != nil {
		return nil, err
	}
	return resp.Snapshot, nil
}

// DeleteSnapshot drops a snapshot and releases the blocks only it held
func (c *Client) DeleteSnapshot(name string) error {
	_, err := c.call("delete snapshot", &Request{Type: RequestSnapshotDelete, Name: name})
	return err
}

// TagSnapshot sets a snapshot's tag and, if non-empty, its description
func (c *Client) TagSnapshot(name, tag, description string) (*storage.SnapshotInfo, error) {
	resp, err := c.call("tag snapshot", &Request{
		Type:        RequestSnapshotTag,
		Name:        name,
		Tag:         tag,
		Description: description,
	})
	if err != nil {
		return nil, err
	}
	return resp.Snapshot, nil
}

// FindSnapshots returns the snapshots carrying tag
func (c *Client) FindSnapshots(tag string) ([]storage.SnapshotInfo, error) {
	resp, err := c.call("find snapshots", &Request{Type: RequestSnapshotFind, Tag: tag})
	if err != nil {
		return nil, err
	}
	return resp.Snapshots, nil
}

// CreateVersion records the current content of a file as a new version
func (c *Client) CreateVersion(name, description string) (*storage.VersionInfo, error) {
	resp, err := c.call("create version", &Request{
		Type:        RequestVersionCreate,
		Name:        name,
		Description: description,
	})
	if err != nil {
		return nil, err
	}
	return resp.Version, nil
}

// ListVersions returns a file's versions, oldest first
func (c *Client) ListVersions(name string) ([]storage.VersionInfo, error) {
	resp, err := c.call("list versions", &Request{Type: RequestVersionList, Name: name})
	if err != nil {
		return nil, err
	}
	return resp.Versions, nil
}

// RollbackVersion restores a file's content from one of its versions
func (c *Client) RollbackVersion(name string, versionID int) (*storage.FileInfo, error) {
	resp, err := c.call("rollback version", &Request{
		Type:      RequestVersionRollback,
		Name:      name,
		VersionID: versionID,
	})
	if err != nil {
		return nil, err
	}
	return resp.File, nil
}

// TagVersion sets a version's tag and, if non-empty, its description
func (c *Client) TagVersion(name string, versionID int, tag, description string) (*storage.VersionInfo, error) {
	resp, err := c.call("tag version", &Request{
		Type:        RequestVersionTag,
		Name:        name,
		VersionID:   versionID,
		Tag:         tag,
		Description: description,
	})
	if err != nil {
		return nil, err
	}
	return resp.Version, nil
}

// FindVersions returns a file's versions carrying tag
func (c *Client) FindVersions(name, tag string) ([]storage.VersionInfo, error) {
	resp, err := c.call("find versions", &Request{Type: RequestVersionFind, Name: name, Tag: tag})
	if err != nil {
		return nil, err
	}
	return resp.Versions, nil
}

// IsDaemonRunning checks if the daemon is running
func IsDaemonRunning() bool {
	client, err := Connect()
	if err != nil {
		return false
	}
	client.Close()
	return true
}
