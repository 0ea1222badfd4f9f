//go:build !darwin && !linux

package storage

// detectFilesystemType has no statfs to consult here; every path is treated
// as local.
func detectFilesystemType(string) (string, error) {
	return "", nil
}
