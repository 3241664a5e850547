// Package matchdir is the receiver's search collaborator: for each
// delivered DATA payload, it scans a directory for a byte-identical file
// and appends the correspondence to an append-only match log.
package matchdir

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

const unknownMarker = "UNKNOWN"

// Searcher owns the receiver's candidate directory and match-log handle
// for the lifetime of one session.
type Searcher struct {
	fs      afero.Fs
	dir     string
	logFile afero.File
}

// Open opens (creating if necessary) the match log in append mode and
// binds the directory that will be scanned for matches.
func Open(fs afero.Fs, dir, logPath string) (*Searcher, error) {
	f, err := fs.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open match log")
	}
	return &Searcher{fs: fs, dir: dir, logFile: f}, nil
}

// Search looks for a byte-identical file to data in the searcher's
// directory and appends one line to the match log recording the result.
// found reports whether a match was located. Every invocation
// re-enumerates the directory from scratch, so nothing is retained that
// would need "rewinding" between calls. The only error returned is a
// failure to write the match log; a directory that cannot be read offers
// no candidates and is recorded as UNKNOWN.
func (s *Searcher) Search(remoteName string, data []byte) (found bool, err error) {
	match, err := s.findMatch(data)
	if err != nil {
		match = ""
	}
	found = match != ""
	if !found {
		match = unknownMarker
	}

	if _, err := fmt.Fprintf(s.logFile, "%s %s\n", remoteName, match); err != nil {
		return false, errors.Wrap(err, "write match log")
	}
	return found, nil
}

func (s *Searcher) findMatch(data []byte) (string, error) {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return "", err
	}

	for _, entry := range entries {
		if entry.IsDir() || entry.Size() != int64(len(data)) {
			continue
		}
		content, err := afero.ReadFile(s.fs, filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		if bytes.Equal(content, data) {
			return entry.Name(), nil
		}
	}
	return "", nil
}

// Close closes the match-log handle.
func (s *Searcher) Close() error {
	return s.logFile.Close()
}
