/**
 * @description
 * FileJournal stores ledger records as JSON lines in a single append-only file.
 * Each record is written with one write call followed by fsync, so a crash can at
 * worst leave a torn final line. Replay drops such a torn tail and truncates the
 * file back to the last complete record. A failed write or fsync is rolled back to
 * the previous end of file; if that rollback fails the journal refuses further
 * appends.
 *
 * @dependencies
 * - bufio, encoding/json, os: Standard Go libraries.
 */

package store

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// journalFile is the subset of *os.File the journal uses.
type journalFile interface {
	io.ReadWriteSeeker
	Sync() error
	Truncate(size int64) error
	Close() error
}

// FileJournal is a Journal backed by a JSON-lines file.
type FileJournal struct {
	mu     sync.Mutex
	path   string
	file   journalFile
	broken error
}

// OpenFileJournal opens (or creates) the journal file at path.
func OpenFileJournal(path string) (*FileJournal, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	return &FileJournal{path: path, file: f}, nil
}

// Path returns the journal file location.
func (j *FileJournal) Path() string {
	return j.path
}

// Append writes rec as one line and syncs it to disk before returning.
func (j *FileJournal) Append(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode journal record: %w", err)
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.broken != nil {
		return j.broken
	}
	start, err := j.file.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("locate journal end: %w", err)
	}
	if _, err := j.file.Write(line); err != nil {
		return j.rollback(start, fmt.Errorf("write journal record: %w", err))
	}
	if err := j.file.Sync(); err != nil {
		return j.rollback(start, fmt.Errorf("sync journal record: %w", err))
	}
	return nil
}

// rollback cuts the file back to start after a failed append and returns cause.
// Must be called with mu held.
func (j *FileJournal) rollback(start int64, cause error) error {
	err := j.file.Truncate(start)
	if err == nil {
		_, err = j.file.Seek(start, io.SeekStart)
	}
	if err == nil {
		err = j.file.Sync()
	}
	if err != nil {
		j.broken = fmt.Errorf("journal %s unusable after failed rollback: %w", j.path, errors.Join(cause, err))
		return j.broken
	}
	return cause
}

// Replay feeds every complete record to fn in file order.
func (j *FileJournal) Replay(ctx context.Context, fn func(Record) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, err := j.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind journal: %w", err)
	}

	reader := bufio.NewReader(j.file)
	var offset int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, err := reader.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			if len(line) > 0 {
				// torn write from a crash mid-append; the mutation never became visible
				if truncErr := j.file.Truncate(offset); truncErr != nil {
					return fmt.Errorf("truncate torn journal tail: %w", truncErr)
				}
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("read journal: %w", err)
		}

		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return fmt.Errorf("journal %s: corrupt record at offset %d: %w", j.path, offset, err)
		}
		if err := fn(rec); err != nil {
			return err
		}
		offset += int64(len(line))
	}
}

func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}
