package browser

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// reapProfileProcesses kills every process started with the profile
// directory as its --user-data-dir. Browser helpers sometimes outlive the main process and
// keep the profile locked. Returns the number of processes killed.
func reapProfileProcesses(ctx context.Context, profileDir string) int {
	if profileDir == "" {
		return 0
	}

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		slog.Debug("Failed to list processes", "error", err)
		return 0
	}

	self := int32(os.Getpid())
	killed := 0
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		args, err := p.CmdlineSliceWithContext(ctx)
		if err != nil || !usesProfile(args, profileDir) {
			continue
		}
		if err := p.KillWithContext(ctx); err != nil {
			slog.Debug("Failed to kill browser process", "pid", p.Pid, "error", err)
			continue
		}
		killed++
	}
	return killed
}

func usesProfile(args []string, profileDir string) bool {
	want := filepath.Clean(profileDir)
	for _, a := range args {
		if v, ok := strings.CutPrefix(a, "--user-data-dir="); ok && filepath.Clean(v) == want {
			return true
		}
	}
	return false
}
