package utils

import (
	"os"
	"path/filepath"
)

// Exists will check if the provided file or directory exists.
func Exists(path string) (bool, error) {
	// get file info
	_, err := os.Lstat(path)
	if err == nil {
		return true, nil
	}

	// check for known error
	if os.IsNotExist(err) {
		return false, nil
	}

	return true, err
}

// Resolve will resolve a path and us the provided base for relative paths.
func Resolve(path, base string) (string, error) {
	// only clean already absolute paths
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}

	// ensure base
	if base == "" {
		var err error
		base, err = os.Getwd()
		if err != nil {
			return "", err
		}
	}

	// return path joined with base
	return filepath.Join(base, path), nil
}
