package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ErrRemoteFilesystem reports a database path on a network mount, where
// SQLite's file locks are unreliable.
var ErrRemoteFilesystem = errors.New("SQLite requires a local filesystem for reliable locking")

// remoteFilesystems are the filesystem type names detectFilesystemType
// reports for network mounts.
var remoteFilesystems = []string{"afpfs", "cifs", "nfs", "smb2", "smbfs", "webdav"}

// CheckLocalFilesystem fails with ErrRemoteFilesystem when the database at
// path would live on a network mount. The path need not exist yet; the
// closest existing ancestor directory is inspected.
func CheckLocalFilesystem(path string) error {
	return checkLocalFilesystem(path, detectFilesystemType)
}

func checkLocalFilesystem(path string, detect func(string) (string, error)) error {
	if path == "" {
		return fmt.Errorf("sqlite path is empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve database path %q: %w", path, err)
	}

	dir, err := existingAncestor(filepath.Dir(abs))
	if err != nil {
		return err
	}
	fsType, err := detect(dir)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", dir, err)
	}

	if slices.Contains(remoteFilesystems, strings.ToLower(strings.TrimSpace(fsType))) {
		return fmt.Errorf("database %q is on network filesystem %q: %w. Move audit.path to local disk or set audit.enabled: false",
			path, fsType, ErrRemoteFilesystem)
	}
	return nil
}

// existingAncestor returns dir or its nearest parent that exists.
func existingAncestor(dir string) (string, error) {
	for {
		_, err := os.Stat(dir)
		switch {
		case err == nil:
			return dir, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", fmt.Errorf("stat %q: %w", dir, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no existing directory above %q", dir)
		}
		dir = parent
	}
}
