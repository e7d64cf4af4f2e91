package daemon

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"

	"cowfs/internal/storage"
)

func init() {
	// Default logging to discard until explicitly enabled via settings or --logging
	log.SetOutput(io.Discard)
}

// maxLogSize is the size above which the log file is halved on start
const maxLogSize = 50 * 1024 * 1024

// Daemon serves one storage engine over the IPC socket
type Daemon struct {
	ipcServer *Server
	stopCh    chan struct{}
	lock      *flock.Flock

	// LogLevel sets the logging level: trace, debug, info, warn, off.
	// Empty means use the settings file. Read it with currentLogLevel
	// once Run has started.
	LogLevel string

	// logMu guards LogLevel and logFile against concurrent reloads
	logMu   sync.Mutex
	logFile *os.File

	// SkipCleanup skips removal of stale pid and socket files on start.
	SkipCleanup bool

	mu     sync.RWMutex
	engine *storage.Engine
}

// New creates a new daemon instance
func New() *Daemon {
	return &Daemon{
		stopCh: make(chan struct{}),
	}
}

// Run starts the daemon and blocks until stopped
func (d *Daemon) Run() error {
	if err := InitConfigDir(); err != nil {
		return err
	}

	// Acquire exclusive lock
	d.lock = flock.New(LockPath())
	locked, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another daemon instance is already running")
	}
	defer d.lock.Unlock()

	settings, err := EffectiveSettings()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	level := d.LogLevel
	if level == "" {
		level = settings.LogLevel
	}

	if loggingEnabled(level) {
		if err := d.truncateLogFile(maxLogSize); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to truncate log file: %v\n", err)
		}
	}
	if err := d.applyLogLevel(level); err != nil {
		return err
	}
	defer d.closeLogFile()

	// We hold the lock, so any pid or socket file left behind is stale
	if !d.SkipCleanup {
		if result := CleanupStale(); result.CleanedPidFile || result.CleanedSocket || len(result.Errors) > 0 {
			log.Infof("Startup cleanup: %s", FormatCleanupResult(result))
		}
	}

	cfg, err := settings.EngineConfig()
	if err != nil {
		return fmt.Errorf("invalid pool settings: %w", err)
	}
	engine, err := storage.New(cfg)
	if err != nil {
		return err
	}
	d.setEngine(engine)

	if err := d.writePidFile(); err != nil {
		return err
	}
	defer d.removePidFile()

	log.Infof("Daemon started (PID %d) blocks=%d blockSize=%d compression=%s",
		os.Getpid(), cfg.MaxBlocks, cfg.BlockSize, cfg.Compression)

	log.Infof("Starting IPC server at %s", SocketPath())
	d.ipcServer = NewServer(d.handleRequest)
	if err := d.ipcServer.Start(); err != nil {
		log.Errorf("IPC server failed to start: %v", err)
		return err
	}
	defer d.ipcServer.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Infof("Received signal %v, shutting down...", sig)
	case <-d.stopCh:
		log.Infof("Stop requested, shutting down...")
	}

	log.Infof("Daemon stopped")
	return nil
}

func (d *Daemon) getEngine() *storage.Engine {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.engine
}

func (d *Daemon) setEngine(e *storage.Engine) {
	d.mu.Lock()
	d.engine = e
	d.mu.Unlock()
}

// handleRequest processes an IPC request
func (d *Daemon) handleRequest(req *Request) *Response {
	log.Debugf("handleRequest: %s name=%q", req.Type, req.Name)

	switch req.Type {
	case RequestStatus:
		return d.handleStatus()
	case RequestStop:
		return d.handleStop()
	case RequestReloadConfig:
		return d.handleReloadConfig()
	}

	engine := d.getEngine()
	if engine == nil {
		return &Response{Success: false, Error: "engine not initialized", Code: CodeInternal}
	}

	switch req.Type {
	case RequestResetMetrics:
		engine.ResetMetrics()
		return &Response{Success: true, Message: "Metrics reset"}
	case RequestReset:
		return d.handleReset()
	case RequestVerify:
		issues := engine.Verify()
		msg := "No inconsistencies found"
		if len(issues) > 0 {
			msg = fmt.Sprintf("%d inconsistencies found", len(issues))
		}
		return &Response{Success: true, Message: msg, Issues: issues}

	case RequestFileCreate:
		return fileResponse(engine.CreateFile(req.Name))
	case RequestFileWrite:
		strategy, err := storage.ParseWriteStrategy(req.Strategy)
		if err != nil {
			return errorResponse(err)
		}
		return fileResponse(engine.WriteFile(req.Name, req.Data, strategy))
	case RequestFileRead:
		data, err := engine.ReadFile(req.Name)
		if err != nil {
			return errorResponse(err)
		}
		return &Response{Success: true, Content: data}
	case RequestFileStat:
		return fileResponse(engine.Stat(req.Name))
	case RequestFileList:
		return &Response{Success: true, Files: engine.ListFiles()}
	case RequestFileDelete:
		if err := engine.DeleteFile(req.Name); err != nil {
			return errorResponse(err)
		}
		return &Response{Success: true, Message: fmt.Sprintf("Deleted %s", req.Name)}
	case RequestFileSetPolicy:
		policy, err := storage.ParsePolicy(req.Policy)
		if err != nil {
			return errorResponse(err)
		}
		return fileResponse(engine.SetPolicy(req.Name, policy))
	case RequestFileSetAttr:
		return fileResponse(engine.SetAttr(req.Name, req.Key, req.Value))
	case RequestFileGetAttr:
		value, err := engine.GetAttr(req.Name, req.Key)
		if err != nil {
			return errorResponse(err)
		}
		return &Response{Success: true, Value: value}

	case RequestBlockList:
		return &Response{Success: true, Blocks: engine.Blocks(req.UsedOnly)}

	case RequestSnapshotCreate:
		return snapshotResponse(engine.CreateSnapshot(req.Name, req.Description))
	case RequestSnapshotList:
		return &Response{Success: true, Snapshots: engine.ListSnapshots()}
	case RequestSnapshotRollback:
		return snapshotResponse(engine.RollbackSnapshot(req.Name))
	case RequestSnapshotDelete:
		if err := engine.DeleteSnapshot(req.Name); err != nil {
			return errorResponse(err)
		}
		return &Response{Success: true, Message: fmt.Sprintf("Deleted snapshot %s", req.Name)}
	case RequestSnapshotTag:
		return snapshotResponse(engine.AddSnapshotTag(req.Name, req.Tag, req.Description))
	case RequestSnapshotFind:
		return &Response{Success: true, Snapshots: engine.FindSnapshotsByTag(req.Tag)}

	case RequestVersionCreate:
		return versionResponse(engine.CreateVersion(req.Name, req.Description))
	case RequestVersionList:
		versions, err := engine.ListVersions(req.Name)
		if err != nil {
			return errorResponse(err)
		}
		return &Response{Success: true, Versions: versions}
	case RequestVersionRollback:
		return fileResponse(engine.RollbackVersion(req.Name, req.VersionID))
	case RequestVersionTag:
		return versionResponse(engine.AddVersionTag(req.Name, req.VersionID, req.Tag, req.Description))
	case RequestVersionFind:
		versions, err := engine.FindVersionsByTag(req.Name, req.Tag)
		if err != nil {
			return errorResponse(err)
		}
		return &Response{Success: true, Versions: versions}

	default:
		return &Response{Success: false, Error: "unknown request type", Code: CodeInvalidArgument}
	}
}

func fileResponse(info storage.FileInfo, err error) *Response {
	if err != nil {
		return errorResponse(err)
	}
	return &Response{Success: true, File: &info}
}

func snapshotResponse(info storage.SnapshotInfo, err error) *Response {
	if err != nil {
		return errorResponse(err)
	}
	return &Response{Success: true, Snapshot: &info}
}

func versionResponse(info storage.VersionInfo, err error) *Response {
	if err != nil {
		return errorResponse(err)
	}
	return &Response{Success: true, Version: &info}
}

func (d *Daemon) handleStatus() *Response {
	resp := &Response{Success: true, PID: os.Getpid()}
	if engine := d.getEngine(); engine != nil {
		status := engine.Status()
		resp.Status = &status
	}
	return resp
}

func (d *Daemon) handleStop() *Response {
	select {
	case <-d.stopCh:
	default:
		close(d.stopCh)
	}
	return &Response{Success: true, Message: "Daemon stopping"}
}

// handleReset empties the engine. Pool settings changed since start take
// effect here: the engine is rebuilt when they differ from the running one.
func (d *Daemon) handleReset() *Response {
	settings, err := EffectiveSettings()
	if err != nil {
		return &Response{Success: false, Error: fmt.Sprintf("failed to load settings: %v", err), Code: CodeInternal}
	}
	cfg, err := settings.EngineConfig()
	if err != nil {
		return errorResponse(err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.engine != nil && sameGeometry(d.engine.Config(), cfg) {
		d.engine.Reset()
	} else {
		engine, err := storage.New(cfg)
		if err != nil {
			return errorResponse(err)
		}
		d.engine = engine
	}
	log.Infof("handleReset: engine reset blocks=%d blockSize=%d compression=%s",
		cfg.MaxBlocks, cfg.BlockSize, cfg.Compression)
	return &Response{Success: true, Message: fmt.Sprintf("Reset %d x %d byte blocks", cfg.MaxBlocks, cfg.BlockSize)}
}

func sameGeometry(a, b storage.Config) bool {
	return a.BlockSize == b.BlockSize &&
		a.MaxBlocks == b.MaxBlocks &&
		a.MaxInodes == b.MaxInodes &&
		a.Compression == b.Compression
}

func (d *Daemon) handleReloadConfig() *Response {
	log.Infof("handleReloadConfig: reloading daemon configuration")

	settings, err := EffectiveSettings()
	if err != nil {
		log.Errorf("handleReloadConfig: failed to load settings: %v", err)
		return &Response{Success: false, Error: fmt.Sprintf("failed to load settings: %v", err), Code: CodeInternal}
	}

	if err := d.applyLogLevel(settings.LogLevel); err != nil {
		return &Response{Success: false, Error: err.Error(), Code: CodeInternal}
	}

	level := strings.ToLower(d.currentLogLevel())
	if !loggingEnabled(level) {
		level = "off"
	}
	return &Response{Success: true, Message: fmt.Sprintf("Config reloaded, log level: %s", level)}
}

// loggingEnabled reports whether level turns logging on
func loggingEnabled(level string) bool {
	switch strings.ToLower(level) {
	case "", "none", "off":
		return false
	}
	return true
}

// applyLogLevel records level, then points logrus at the log file with
// it, or discards output when the level is off.
func (d *Daemon) applyLogLevel(level string) error {
	d.logMu.Lock()
	defer d.logMu.Unlock()

	d.LogLevel = level
	level = strings.ToLower(level)
	if !loggingEnabled(level) {
		log.SetOutput(io.Discard)
		d.closeLogFileLocked()
		return nil
	}

	if d.logFile == nil {
		logFile, err := os.OpenFile(LogPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		d.logFile = logFile
	}
	log.SetOutput(d.logFile)

	switch level {
	case "trace":
		log.SetLevel(log.TraceLevel)
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	default:
		log.SetLevel(log.DebugLevel)
	}
	log.Infof("Log level set to %s", level)
	return nil
}

func (d *Daemon) currentLogLevel() string {
	d.logMu.Lock()
	defer d.logMu.Unlock()
	return d.LogLevel
}

func (d *Daemon) closeLogFile() {
	d.logMu.Lock()
	defer d.logMu.Unlock()
	d.closeLogFileLocked()
}

func (d *Daemon) closeLogFileLocked() {
	if d.logFile != nil {
		log.SetOutput(io.Discard)
		d.logFile.Close()
		d.logFile = nil
	}
}

func (d *Daemon) writePidFile() error {
	data := []byte(strconv.Itoa(os.Getpid()))
	return os.WriteFile(PidPath(), data, 0600)
}

func (d *Daemon) removePidFile() {
	os.Remove(PidPath())
}

// GetPID reads the daemon PID from file
func GetPID() (int, error) {
	data, err := os.ReadFile(PidPath())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// truncateLogFile truncates the log file if it exceeds maxSize bytes.
// It keeps the last half of the file content to preserve recent logs.
func (d *Daemon) truncateLogFile(maxSize int64) error {
	logPath := LogPath()

	info, err := os.Stat(logPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	if info.Size() <= maxSize {
		return nil
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		return err
	}

	keepSize := len(data) / 2
	startIdx := len(data) - keepSize

	// Find the next newline to avoid cutting a line in the middle
	for i := startIdx; i < len(data); i++ {
		if data[i] == '\n' {
			startIdx = i + 1
			break
		}
	}

	truncatedData := data[startIdx:]
	header := []byte(fmt.Sprintf("--- Log truncated at %s (kept last %d bytes) ---\n",
		time.Now().Format(time.RFC3339), len(truncatedData)))

	return os.WriteFile(logPath, append(header, truncatedData...), 0600)
}
