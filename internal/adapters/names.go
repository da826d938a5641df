package adapters

import (
	"fmt"
	"path/filepath"
	"strings"
)

// validateFileName rejects names that would escape the item's directory.
func validateFileName(name string) error {
	if name == "" {
		return fmt.Errorf("file name is empty")
	}
	if filepath.IsAbs(name) || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("invalid file name %q", name)
	}
	return nil
}
