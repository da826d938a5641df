package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrDetectionUnsupported is returned where the platform cannot report a
// filesystem type. Callers treat it as "assume local".
var ErrDetectionUnsupported = errors.New("filesystem detection is unsupported on this platform")

var networkFilesystems = map[string]bool{
	"afpfs":  true,
	"cifs":   true,
	"nfs":    true,
	"smbfs":  true,
	"smb2":   true,
	"webdav": true,
}

// CheckLocalPath fails when path, or its nearest existing parent, lives on a
// network filesystem. setting names the config key that chose the path.
func CheckLocalPath(path, setting string) error {
	return checkLocalPath(path, setting, detectFilesystemType)
}

func checkLocalPath(path, setting string, detect func(string) (string, error)) error {
	if path == "" {
		return fmt.Errorf("%s is empty", setting)
	}

	existing, err := nearestExistingPath(path)
	if err != nil {
		return fmt.Errorf("resolve %s %q: %w", setting, path, err)
	}
	fsType, err := detect(existing)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", existing, err)
	}
	if IsNetworkFilesystem(fsType) {
		return fmt.Errorf("%s %q is on network filesystem %q; use local disk", setting, path, fsType)
	}
	return nil
}

func nearestExistingPath(path string) (string, error) {
	candidate, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}
	for {
		_, err := os.Stat(candidate)
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", path)
		}
		candidate = parent
	}
}

// IsNetworkFilesystem reports whether fsType names a remote mount.
func IsNetworkFilesystem(fsType string) bool {
	return networkFilesystems[strings.ToLower(strings.TrimSpace(fsType))]
}
