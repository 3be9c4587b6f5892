package statestore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	workspaceLockDirName   = ".curator.lock"
	workspaceLockOwnerFile = "owner.json"
)

// WorkspaceLock guards a curator workspace so only one process schedules
// against the upstream provider at a time.
type WorkspaceLock struct {
	lockDir string
}

type workspaceLockOwner struct {
	PID       int    `json:"pid"`
	CreatedAt string `json:"created_at"`
	Hostname  string `json:"hostname,omitempty"`
}

func AcquireWorkspaceLock(workspaceDir string) (WorkspaceLock, error) {
	target := strings.TrimSpace(workspaceDir)
	if target == "" {
		return WorkspaceLock{}, fmt.Errorf("workspace directory is required")
	}

	lockDir := filepath.Join(target, workspaceLockDirName)
	if err := os.Mkdir(lockDir, 0o755); err != nil {
		if os.IsExist(err) {
			ownerPath := filepath.Join(lockDir, workspaceLockOwnerFile)
			var owner workspaceLockOwner
			if readErr := ReadJSON(ownerPath, &owner); readErr == nil && owner.PID > 0 && owner.CreatedAt != "" {
				return WorkspaceLock{}, fmt.Errorf(
					"workspace is locked: %s (pid=%d created_at=%s host=%s)",
					target, owner.PID, owner.CreatedAt, owner.Hostname,
				)
			}
			return WorkspaceLock{}, fmt.Errorf("workspace is locked: %s", target)
		}
		return WorkspaceLock{}, fmt.Errorf("acquire workspace lock for %s: %w", target, err)
	}

	owner := workspaceLockOwner{
		PID:       os.Getpid(),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Hostname:  hostnameOrUnknown(),
	}
	ownerPath := filepath.Join(lockDir, workspaceLockOwnerFile)
	if err := WriteJSON(ownerPath, owner); err != nil {
		_ = os.Remove(lockDir)
		return WorkspaceLock{}, fmt.Errorf("write workspace lock owner for %s: %w", target, err)
	}

	return WorkspaceLock{lockDir: lockDir}, nil
}

func (l WorkspaceLock) Release() error {
	if strings.TrimSpace(l.lockDir) == "" {
		return nil
	}
	_ = os.Remove(filepath.Join(l.lockDir, workspaceLockOwnerFile))
	if err := os.Remove(l.lockDir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release workspace lock %s: %w", l.lockDir, err)
	}
	return nil
}

func hostnameOrUnknown() string {
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "unknown"
	}
	return host
}
