package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func localFS(string) (string, error) { return "ext4", nil }

func TestCheckLocalPath(t *testing.T) {
	t.Parallel()

	t.Run("local disk passes", func(t *testing.T) {
		t.Parallel()
		dbPath := filepath.Join(t.TempDir(), "workitems.db")
		assert.NoError(t, checkLocalPath(dbPath, "server.state.path", localFS))
	})

	t.Run("network share rejected", func(t *testing.T) {
		t.Parallel()
		dir := filepath.Join(t.TempDir(), "files")
		err := checkLocalPath(dir, "server.files_dir", func(string) (string, error) {
			return "nfs", nil
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `network filesystem "nfs"`)
		assert.Contains(t, err.Error(), "server.files_dir")
	})

	t.Run("inspects nearest existing parent", func(t *testing.T) {
		t.Parallel()
		root := t.TempDir()
		var inspected string
		err := checkLocalPath(filepath.Join(root, "a", "b", "workitems.db"), "server.state.path", func(p string) (string, error) {
			inspected = p
			return "ext4", nil
		})
		require.NoError(t, err)
		assert.Equal(t, root, inspected)
	})

	t.Run("unsupported platform is recognisable", func(t *testing.T) {
		t.Parallel()
		err := checkLocalPath(filepath.Join(t.TempDir(), "x.db"), "server.state.path", func(string) (string, error) {
			return "", ErrDetectionUnsupported
		})
		assert.ErrorIs(t, err, ErrDetectionUnsupported)
		assert.False(t, errors.Is(errors.New("statfs failed"), ErrDetectionUnsupported))
	})

	t.Run("empty path", func(t *testing.T) {
		t.Parallel()
		assert.EqualError(t, checkLocalPath("", "server.files_dir", localFS), "server.files_dir is empty")
	})
}

func TestCheckLocalPathOnThisHost(t *testing.T) {
	t.Parallel()
	err := CheckLocalPath(t.TempDir(), "server.files_dir")
	if errors.Is(err, ErrDetectionUnsupported) {
		t.Skip("no filesystem detection on this platform")
	}
	assert.NoError(t, err)
}

func TestIsNetworkFilesystem(t *testing.T) {
	t.Parallel()

	for fs, want := range map[string]bool{
		"nfs":    true,
		" CIFS ": true,
		"smb2":   true,
		"ext4":   false,
		"0x6969": false,
	} {
		assert.Equal(t, want, IsNetworkFilesystem(fs), fs)
	}
}
