package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	// MaxBackups is the number of backups kept per config file.
	MaxBackups = 3

	// BackupSuffix separates the config file name from the backup timestamp.
	BackupSuffix = ".bak"

	backupStampLayout = "20060102-150405.000"
)

// BackupFile copies the config file at path to "<path>.bak.<timestamp>"
// and prunes all but the newest MaxBackups copies. It returns the backup
// path, or "" when there is nothing to back up.
func BackupFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read config for backup: %w", err)
	}

	backup := path + BackupSuffix + "." + time.Now().Format(backupStampLayout)
	if err := os.WriteFile(backup, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}

	backups, err := ListBackups(path)
	if err != nil {
		return backup, nil
	}
	for _, old := range backups[min(len(backups), MaxBackups):] {
		_ = os.Remove(old)
	}
	return backup, nil
}

// ListBackups returns the backups of the config file at path, newest first.
func ListBackups(path string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Dir(path))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list config directory: %w", err)
	}

	prefix := filepath.Base(path) + BackupSuffix + "."
	var backups []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			backups = append(backups, filepath.Join(filepath.Dir(path), e.Name()))
		}
	}
	// The timestamp layout sorts lexically in time order.
	sort.Sort(sort.Reverse(sort.StringSlice(backups)))
	return backups, nil
}
