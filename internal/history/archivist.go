package history

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
)

// Action selects what Process does with each history file.
type Action string

const (
	ActionArchive Action = "archive"
	ActionDelete  Action = "delete"
)

// ErrInvalidAction is reported for anything other than archive or delete.
var ErrInvalidAction = errors.New("invalid action")

// filenamePattern matches history files: a 19-digit identifier plus extension.
var filenamePattern = regexp.MustCompile(`^\d{19}\.(wav|txt)$`)

// ValidName reports whether name follows the history filename convention.
func ValidName(name string) bool {
	return filenamePattern.MatchString(name)
}

// Result is the outcome of a Process call. It is serialized as-is by the HTTP layer.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Wav     int    `json:"-"`
	Txt     int    `json:"-"`
}

// Archivist archives or securely deletes history files in the output store.
type Archivist struct {
	outputDir  string
	archiveDir string
	eraser     *Eraser
	logger     *log.Logger
}

// NewArchivist creates an Archivist over outputDir, moving archived files into archiveDir.
func NewArchivist(outputDir, archiveDir string, eraser *Eraser, logger *log.Logger) *Archivist {
	return &Archivist{
		outputDir:  outputDir,
		archiveDir: archiveDir,
		eraser:     eraser,
		logger:     logger,
	}
}

// OutputDir returns the directory history files are read from.
func (a *Archivist) OutputDir() string { return a.outputDir }

// Process applies action to filenames, or to every history file in the
// output store when filenames is empty. Names that do not follow the naming
// convention or do not exist are skipped. The first failing file aborts the
// batch; files handled before it stay handled.
func (a *Archivist) Process(action Action, filenames []string) Result {
	if action != ActionArchive && action != ActionDelete {
		return Result{Error: fmt.Sprintf("%v: %q", ErrInvalidAction, action)}
	}

	if action == ActionArchive {
		if err := os.MkdirAll(a.archiveDir, 0o755); err != nil {
			return Result{Error: fmt.Sprintf("Failed to %s: %v", action, err)}
		}
	}

	candidates := filenames
	if len(candidates) == 0 {
		var err error
		candidates, err = a.scan()
		if err != nil {
			return Result{Error: fmt.Sprintf("Failed to %s: %v", action, err)}
		}
	}

	var res Result
	for _, name := range candidates {
		if !a.isValidFile(name) {
			continue
		}

		path := filepath.Join(a.outputDir, name)
		var err error
		switch action {
		case ActionArchive:
			err = move(path, filepath.Join(a.archiveDir, name))
		case ActionDelete:
			err = a.eraser.Erase(path)
		}
		if err != nil {
			a.logger.Printf("history: failed to %s %s: %v", action, name, err)
			return Result{
				Error: fmt.Sprintf("Failed to %s %s: %v", action, name, err),
				Wav:   res.Wav,
				Txt:   res.Txt,
			}
		}

		if strings.HasSuffix(name, ".wav") {
			res.Wav++
		} else {
			res.Txt++
		}
	}

	total := res.Wav + res.Txt
	res.Success = total > 0
	if total > 0 {
		res.Message = fmt.Sprintf("%sd %d chat history files (%d .wav, %d .txt).",
			capitalize(string(action)), total, res.Wav, res.Txt)
	} else {
		res.Message = fmt.Sprintf("No valid chat history files to %s.", action)
	}
	return res
}

func (a *Archivist) scan() ([]string, error) {
	entries, err := os.ReadDir(a.outputDir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && ValidName(e.Name()) {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func (a *Archivist) isValidFile(name string) bool {
	if !ValidName(name) {
		return false
	}
	info, err := os.Stat(filepath.Join(a.outputDir, name))
	return err == nil && info.Mode().IsRegular()
}

// move renames src to dst, falling back to copy and remove across filesystems.
func move(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil || !errors.Is(err, syscall.EXDEV) {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
