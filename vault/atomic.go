package vault

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// rename and link are swapped in tests to simulate a crash between writing
// the temp file and publishing it, or a file appearing meanwhile.
var (
	rename = os.Rename
	link   = os.Link
)

// WriteFileAtomic replaces path with data so that readers see either the
// old file or the new one, never a partial write. The temp file lives in
// the same directory so the rename stays on one filesystem.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmpPath, err := writeTemp(dir, data, perm)
	if err != nil {
		return err
	}
	defer os.Remove(tmpPath)

	if err := rename(tmpPath, path); err != nil {
		return ioErr("rename", path, err)
	}

	_ = syncDir(dir)
	return nil
}

// createFileExclusive publishes data at path with a hard link, which fails
// if path exists at that moment. The error then matches ErrAlreadyExists.
func createFileExclusive(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmpPath, err := writeTemp(dir, data, perm)
	if err != nil {
		return err
	}
	defer os.Remove(tmpPath)

	if err := link(tmpPath, path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrAlreadyExists
		}
		return ioErr("link", path, err)
	}

	_ = syncDir(dir)
	return nil
}

// writeTemp writes and syncs data to a new temp file in dir and returns
// its path. The caller removes it.
func writeTemp(dir string, data []byte, perm os.FileMode) (string, error) {
	tmpFile, err := os.CreateTemp(dir, ".clockode-*")
	if err != nil {
		return "", ioErr("create temp", dir, err)
	}
	tmpPath := tmpFile.Name()
	fail := func(op string, err error) (string, error) {
		tmpFile.Close()
		os.Remove(tmpPath)
		return "", ioErr(op, tmpPath, err)
	}

	if err := tmpFile.Chmod(perm); err != nil {
		return fail("chmod", err)
	}
	if _, err := tmpFile.Write(data); err != nil {
		return fail("write", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fail("sync", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return "", ioErr("close", tmpPath, err)
	}
	return tmpPath, nil
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
