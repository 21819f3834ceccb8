package job

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/voxlogica-project/voxlogica2/emit"
)

// openJobLog creates (or truncates) the append-only log file for jobID
// under dir and wraps it in a JSONL LogEmitter, per spec §4.8 "Logs spill
// to a per-job file". dir is created if it does not yet exist.
func openJobLog(dir, jobID string) (*os.File, *emit.LogEmitter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create job log directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, jobID+".jsonl"), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open job log file: %w", err)
	}
	return f, emit.NewLogEmitter(f, true), nil
}
