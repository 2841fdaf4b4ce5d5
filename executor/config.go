package executor

import (
	"fmt"
	"os"
	"runtime"

	"github.com/BurntSushi/toml"
)

// Config controls the Engine's worker pool and commit behaviour, loadable
// from TOML the same way go-ethereum's node configuration is (SPEC_FULL.md
// §9).
type Config struct {
	// Workers is the fixed number of execution/validation worker
	// goroutines. Zero means "size from GOMAXPROCS" (see automaxprocs in
	// cmd/blockstm-demo).
	Workers int `toml:"workers"`
	// CommitQueueCapacity bounds the scheduler's commit queue.
	CommitQueueCapacity int `toml:"commit_queue_capacity"`
	// HaltOnFirstError halts the scheduler as soon as a worker's
	// code-invariant violation is recovered. When false, the violation is
	// only recorded in the engine's error group and the scheduler keeps
	// running. Default true; the spec treats such violations as always
	// fatal to the block (spec.md §7.2).
	HaltOnFirstError bool `toml:"halt_on_first_error"`
}

// DefaultConfig returns sensible defaults: one worker per logical CPU, a
// commit queue as deep as the worker count, halt-on-first-error enabled.
func DefaultConfig() Config {
	return Config{
		Workers:             runtime.GOMAXPROCS(0),
		CommitQueueCapacity: runtime.GOMAXPROCS(0),
		HaltOnFirstError:    true,
	}
}

// LoadConfig reads a TOML config file, falling back to DefaultConfig's
// zero-value fields for anything the file omits.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := os.Stat(path); err != nil {
		return Config{}, fmt.Errorf("executor: reading config %s: %w", path, err)
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("executor: decoding config %s: %w", path, err)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.CommitQueueCapacity <= 0 {
		cfg.CommitQueueCapacity = cfg.Workers
	}
	return cfg, nil
}
