package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	releaseAttempts = 3
	releaseBackoff  = 50 * time.Millisecond
)

// removeAll is swapped out in tests.
var removeAll = os.RemoveAll

// Workspace is a disposable directory holding the generated script for one run.
type Workspace struct {
	Dir        string
	ScriptPath string
}

// acquireWorkspace creates a fresh, uniquely named directory under baseDir
// (the OS temp dir when empty). The caller must Release it.
func acquireWorkspace(baseDir, id, scriptName string) (*Workspace, error) {
	if baseDir != "" {
		if err := os.MkdirAll(baseDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating work dir: %w", err)
		}
	}

	dir, err := os.MkdirTemp(baseDir, "runbox-"+id+"-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}

	return &Workspace{
		Dir:        dir,
		ScriptPath: filepath.Join(dir, scriptName),
	}, nil
}

// WriteScript writes the program text verbatim.
func (w *Workspace) WriteScript(program string) error {
	if err := os.WriteFile(w.ScriptPath, []byte(program), 0o644); err != nil {
		return fmt.Errorf("writing script file: %w", err)
	}
	return nil
}

// Release removes the workspace and everything the script left in it. A
// removal racing a process that still writes into the directory is retried
// a few times before giving up.
func (w *Workspace) Release() error {
	var err error
	for i := 0; i < releaseAttempts; i++ {
		if i > 0 {
			time.Sleep(releaseBackoff)
		}
		if err = removeAll(w.Dir); err == nil {
			return nil
		}
	}
	return fmt.Errorf("removing %s: %w", w.Dir, err)
}
