// Package vsdbcfg owns the process-wide (engine, base_dir) singleton every
// vsdb map is built against, and the background flusher thread. The base
// directory may be set exactly once before first use (spec.md §5's "Global
// state lifecycle"); there is no explicit shutdown, teardown happens at
// process exit.
package vsdbcfg

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/erigontech/vsdb/engine"
	"github.com/erigontech/vsdb/engine/memengine"
	"github.com/erigontech/vsdb/vsdberr"
)

const (
	baseDirEnv   = "VSDB_BASE_DIR"
	customDirEnv = "VSDB_CUSTOM_DIR"
	customDir    = "__CUSTOM__"

	flushInterval = time.Millisecond
)

var (
	mu          sync.Mutex
	initialized bool
	baseDir     string
	customPath  string
	eng         engine.Engine
	logger      *zap.Logger
	flusherDone chan struct{}
)

// EngineFactory builds the engine to back the singleton. It is called at
// most once, from Init.
type EngineFactory func(dir string) (engine.Engine, error)

// SetBaseDir fixes the base directory before the singleton is initialized.
// Calling it a second time, or after Init/Engine has run, returns
// AlreadyInitialized.
func SetBaseDir(dir string) error {
	mu.Lock()
	defer mu.Unlock()
	if initialized || baseDir != "" {
		return vsdberr.New(vsdberr.AlreadyInitialized, "base dir already set to %q", baseDir)
	}
	baseDir = dir
	return nil
}

func resolveBaseDir() string {
	if baseDir != "" {
		return baseDir
	}
	if v := os.Getenv(baseDirEnv); v != "" {
		return v
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".vsdb")
	}
	return filepath.Join(os.TempDir(), ".vsdb")
}

// Init lazily creates the process singleton on first call. Subsequent
// calls are no-ops (and ignore factory, since the engine is already live).
// Passing a nil factory defaults to an in-memory engine.memengine.Engine,
// the pure-Go "sled_engine"-style backend; production callers compiled
// with the mdbx build tag should pass mdbxengine.Open bound to dir.
func Init(factory EngineFactory) error {
	mu.Lock()
	defer mu.Unlock()
	if initialized {
		return nil
	}

	dir := resolveBaseDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return vsdberr.Wrap(err, "create base dir %s", dir)
	}
	customPath = filepath.Join(dir, customDir)
	if err := os.MkdirAll(customPath, 0o755); err != nil {
		return vsdberr.Wrap(err, "create custom dir %s", customPath)
	}
	if err := os.Setenv(customDirEnv, customPath); err != nil {
		return vsdberr.Wrap(err, "export %s", customDirEnv)
	}

	var err error
	if factory != nil {
		eng, err = factory(dir)
	} else {
		eng = memengine.New()
	}
	if err != nil {
		return vsdberr.Wrap(err, "open engine at %s", dir)
	}

	logger, err = zap.NewProduction()
	if err != nil {
		logger = zap.NewNop()
	}

	baseDir = dir
	initialized = true
	flusherDone = make(chan struct{})
	go flushLoop(eng, logger, flusherDone)
	return nil
}

func flushLoop(e engine.Engine, log *zap.Logger, done chan struct{}) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := e.Flush(context.Background()); err != nil {
				log.Warn("background flush failed", zap.Error(err))
			}
		}
	}
}

// Engine returns the process-wide engine, initializing it with the default
// in-memory backend if Init has not been called yet.
func Engine() engine.Engine {
	mu.Lock()
	needInit := !initialized
	mu.Unlock()
	if needInit {
		_ = Init(nil)
	}
	mu.Lock()
	defer mu.Unlock()
	return eng
}

// BaseDir returns the resolved base directory, initializing the singleton
// if necessary.
func BaseDir() string {
	_ = Engine()
	mu.Lock()
	defer mu.Unlock()
	return baseDir
}

// CustomDir returns the eagerly-created __CUSTOM__ sub-directory.
func CustomDir() string {
	_ = Engine()
	mu.Lock()
	defer mu.Unlock()
	return customPath
}

// resetForTest tears down the singleton so tests can re-initialize it with
// a fresh engine. Not part of the public contract.
func resetForTest() {
	mu.Lock()
	defer mu.Unlock()
	if flusherDone != nil {
		close(flusherDone)
		flusherDone = nil
	}
	if eng != nil {
		_ = eng.Close()
	}
	initialized = false
	baseDir = ""
	customPath = ""
	eng = nil
}
