package history

import (
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const previewLength = 80

var timestampPattern = regexp.MustCompile(`\d{13}`)

// Entry is one logical history item: a .txt transcript with its .wav companion.
type Entry struct {
	Txt         string `json:"txt"`
	Wav         string `json:"wav"`
	Timestamp   int64  `json:"timestamp"`
	PreviewText string `json:"preview_text"`
}

// List returns the history entries in the output store, newest first. When
// search is non-empty only entries whose transcript contains it
// (case-insensitive) are returned.
func (a *Archivist) List(search string) ([]Entry, error) {
	dirEntries, err := os.ReadDir(a.outputDir)
	if err != nil {
		return nil, err
	}

	present := make(map[string]bool, len(dirEntries))
	for _, e := range dirEntries {
		present[e.Name()] = true
	}

	needle := strings.ToLower(search)
	history := []Entry{}
	for _, e := range dirEntries {
		name := e.Name()
		if !strings.HasSuffix(name, ".txt") {
			continue
		}
		wav := strings.TrimSuffix(name, ".txt") + ".wav"
		if !present[wav] {
			continue
		}

		path := filepath.Join(a.outputDir, name)
		if search != "" {
			full, err := os.ReadFile(path)
			if err != nil || !strings.Contains(strings.ToLower(strings.TrimSpace(string(full))), needle) {
				continue
			}
		}

		history = append(history, Entry{
			Txt:         "/output/" + name,
			Wav:         "/output/" + wav,
			Timestamp:   entryTimestamp(path, name),
			PreviewText: preview(path),
		})
	}

	sort.SliceStable(history, func(i, j int) bool {
		return history[i].Timestamp > history[j].Timestamp
	})
	return history, nil
}

func entryTimestamp(path, name string) int64 {
	if m := timestampPattern.FindString(name); m != "" {
		if ts, err := strconv.ParseInt(m, 10, 64); err == nil {
			return ts
		}
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.ModTime().UnixMilli()
}

func preview(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return "Error loading text."
	}
	defer f.Close()

	// 80 runes of UTF-8 fit in 320 bytes.
	buf := make([]byte, previewLength*4)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "Error loading text."
	}

	runes := []rune(string(buf[:n]))
	if len(runes) > previewLength {
		runes = runes[:previewLength]
	}
	text := strings.TrimSpace(string(runes))
	if len([]rune(text)) == previewLength {
		text += "..."
	}
	return text
}
