package history

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
)

// DefaultPasses is the number of overwrite passes used when none is configured.
const DefaultPasses = 3

// Eraser overwrites a file with random bytes several times before unlinking it.
type Eraser struct {
	logger *log.Logger
	passes int
	random io.Reader
}

// NewEraser creates an Eraser. passes < 1 falls back to DefaultPasses.
func NewEraser(logger *log.Logger, passes int) *Eraser {
	if passes < 1 {
		passes = DefaultPasses
	}
	return &Eraser{
		logger: logger,
		passes: passes,
		random: rand.Reader,
	}
}

// Erase securely deletes path. A missing file is not an error. Failures are
// logged here and returned so Archivist.Process can stop the batch and report
// the failing file; the error goes no further than that Result. A file that
// fails mid-way is left in place with partially overwritten content.
func (e *Eraser) Erase(path string) error {
	if err := e.erase(path); err != nil {
		e.logger.Printf("eraser: failed to securely delete %s: %v", path, err)
		return err
	}
	return nil
}

func (e *Eraser) erase(path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("not a regular file")
	}

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}

	size := info.Size()
	for pass := 0; pass < e.passes; pass++ {
		if err := overwrite(f, e.random, size); err != nil {
			f.Close()
			return fmt.Errorf("pass %d: %w", pass+1, err)
		}
	}

	if err := f.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}

func overwrite(f *os.File, random io.Reader, size int64) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := io.CopyN(f, random, size); err != nil {
		return err
	}
	return f.Sync()
}
