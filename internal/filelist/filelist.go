// Package filelist is the sender's file-list iterator and file-reading
// collaborator: it yields paths from a text file one at a time, and reads
// a given path's base name and contents for packetizing.
package filelist

import (
	"bufio"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// Iterator yields one file path per call to Next, in file order.
type Iterator struct {
	fs      afero.Fs
	file    afero.File
	scanner *bufio.Scanner
}

// Open opens list, a plain text file with one path per line.
func Open(fs afero.Fs, listPath string) (*Iterator, error) {
	f, err := fs.Open(listPath)
	if err != nil {
		return nil, err
	}
	return &Iterator{fs: fs, file: f, scanner: bufio.NewScanner(f)}, nil
}

// Next returns the next path, with ok=false once the list is exhausted.
// A non-nil err is a terminal I/O error distinct from a clean end of list.
func (it *Iterator) Next() (path string, ok bool, err error) {
	if it.scanner.Scan() {
		return strings.TrimRight(it.scanner.Text(), "\r\n"), true, nil
	}
	if err := it.scanner.Err(); err != nil && err != io.EOF {
		return "", false, err
	}
	return "", false, nil
}

// Close releases the underlying file handle.
func (it *Iterator) Close() error {
	return it.file.Close()
}

// ReadFile reads path's full contents and returns its base name (the
// portion transmitted to the receiver) alongside the raw bytes.
func ReadFile(fs afero.Fs, path string) (baseName string, data []byte, err error) {
	data, err = afero.ReadFile(fs, path)
	if err != nil {
		return "", nil, err
	}
	return filepath.Base(path), data, nil
}
