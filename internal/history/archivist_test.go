package history

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const (
	stemA = "1234567890123456789"
	stemB = "1234567890123456790"
)

func newTestArchivist(t *testing.T) (*Archivist, string, string) {
	t.Helper()
	root := t.TempDir()
	out := filepath.Join(root, "output")
	archive := filepath.Join(root, "archived")
	if err := os.MkdirAll(out, 0o755); err != nil {
		t.Fatal(err)
	}
	return NewArchivist(out, archive, NewEraser(discardLogger(), 1), discardLogger()), out, archive
}

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("content of "+n), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestValidName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{stemA + ".wav", true},
		{stemA + ".txt", true},
		{"123456789012345678.wav", false},
		{"12345678901234567890.wav", false},
		{stemA + ".mp3", false},
		{"notes.mp3", false},
		{"../" + stemA + ".wav", false},
		{stemA + ".wav.bak", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidName(tt.name); got != tt.want {
				t.Errorf("ValidName(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestArchivist_ArchivePair(t *testing.T) {
	a, out, archive := newTestArchivist(t)
	writeFiles(t, out, stemA+".txt", stemA+".wav")

	res := a.Process(ActionArchive, []string{stemA + ".txt", stemA + ".wav"})

	if !res.Success {
		t.Fatalf("Process() success = false, error = %q", res.Error)
	}
	if res.Wav != 1 || res.Txt != 1 {
		t.Errorf("counts = {wav:%d, txt:%d}, want {wav:1, txt:1}", res.Wav, res.Txt)
	}
	if want := "Archived 2 chat history files (1 .wav, 1 .txt)."; res.Message != want {
		t.Errorf("message = %q, want %q", res.Message, want)
	}
	for _, n := range []string{stemA + ".txt", stemA + ".wav"} {
		if exists(filepath.Join(out, n)) {
			t.Errorf("%s still in output store", n)
		}
		if !exists(filepath.Join(archive, n)) {
			t.Errorf("%s missing from archive", n)
		}
	}
}

func TestArchivist_SkipsInvalidNames(t *testing.T) {
	a, out, _ := newTestArchivist(t)
	writeFiles(t, out, "notes.mp3")

	res := a.Process(ActionArchive, []string{"notes.mp3"})
	if res.Success {
		t.Error("Process() with only an invalid name should not succeed")
	}
	if want := "No valid chat history files to archive."; res.Message != want {
		t.Errorf("message = %q, want %q", res.Message, want)
	}
	if !exists(filepath.Join(out, "notes.mp3")) {
		t.Error("invalid file should be left untouched")
	}
}

func TestArchivist_SkipsMissingAndTraversalNames(t *testing.T) {
	a, out, _ := newTestArchivist(t)
	writeFiles(t, out, stemA+".wav")

	res := a.Process(ActionDelete, []string{stemB + ".wav", "../" + stemA + ".wav", stemA + ".wav"})
	if !res.Success || res.Wav != 1 || res.Txt != 0 {
		t.Errorf("result = %+v, want one .wav deleted", res)
	}
	if want := "Deleted 1 chat history files (1 .wav, 0 .txt)."; res.Message != want {
		t.Errorf("message = %q, want %q", res.Message, want)
	}
}

func TestArchivist_DeleteAllWhenNoNamesGiven(t *testing.T) {
	a, out, _ := newTestArchivist(t)
	writeFiles(t, out, stemA+".txt", stemA+".wav", stemB+".txt", "new_audio.json")

	res := a.Process(ActionDelete, nil)
	if !res.Success || res.Wav != 1 || res.Txt != 2 {
		t.Errorf("result = %+v, want {wav:1, txt:2}", res)
	}
	for _, n := range []string{stemA + ".txt", stemA + ".wav", stemB + ".txt"} {
		if exists(filepath.Join(out, n)) {
			t.Errorf("%s should have been deleted", n)
		}
	}
	if !exists(filepath.Join(out, "new_audio.json")) {
		t.Error("non-history file should not be touched")
	}
}

func TestArchivist_EmptyStore(t *testing.T) {
	a, _, _ := newTestArchivist(t)
	res := a.Process(ActionDelete, nil)
	if res.Success {
		t.Error("empty store should report success = false")
	}
}

func TestArchivist_FailureAbortsBatch(t *testing.T) {
	a, out, archive := newTestArchivist(t)
	writeFiles(t, out, stemA+".txt", stemA+".wav")

	// A non-empty directory at the destination makes the rename fail.
	blocker := filepath.Join(archive, stemA+".wav")
	if err := os.MkdirAll(filepath.Join(blocker, "x"), 0o755); err != nil {
		t.Fatal(err)
	}

	res := a.Process(ActionArchive, []string{stemA + ".txt", stemA + ".wav", stemB + ".txt"})
	if res.Success {
		t.Fatal("Process() should fail when a move fails")
	}
	if !strings.Contains(res.Error, "Failed to archive "+stemA+".wav") {
		t.Errorf("error = %q, should name the failing file", res.Error)
	}
	if !exists(filepath.Join(archive, stemA+".txt")) {
		t.Error("file processed before the failure should stay archived")
	}
	if !exists(filepath.Join(out, stemA+".wav")) {
		t.Error("failing file should remain in the output store")
	}
}

func TestArchivist_EraseFailureStopsDeleteBatch(t *testing.T) {
	a, out, _ := newTestArchivist(t)
	writeFiles(t, out, stemA+".txt", stemA+".wav")
	a.eraser.random = failingReader{}

	res := a.Process(ActionDelete, []string{stemA + ".txt", stemA + ".wav"})
	if res.Success {
		t.Fatal("Process() should fail when an erase fails")
	}
	if !strings.Contains(res.Error, "Failed to delete "+stemA+".txt") {
		t.Errorf("error = %q, should name the failing file", res.Error)
	}
	if res.Wav != 0 || res.Txt != 0 {
		t.Errorf("counts = %d wav, %d txt, want nothing counted", res.Wav, res.Txt)
	}
	if !exists(filepath.Join(out, stemA+".wav")) {
		t.Error("files after the failing one should be left alone")
	}
}

func TestArchivist_InvalidAction(t *testing.T) {
	a, _, _ := newTestArchivist(t)
	res := a.Process(Action("shred"), nil)
	if res.Success || !strings.Contains(res.Error, "invalid action") {
		t.Errorf("result = %+v, want invalid action error", res)
	}
}
