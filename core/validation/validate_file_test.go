package validation

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheckFileExists(t *testing.T) {
	tmpDir := t.TempDir()

	testFile := filepath.Join(tmpDir, "test.txt")
	if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}
	testDir := filepath.Join(tmpDir, "testdir")
	if err := os.Mkdir(testDir, 0755); err != nil {
		t.Fatalf("Failed to create test dir: %v", err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
		errType string
	}{
		{name: "existing file", path: testFile},
		{name: "non-existent file", path: filepath.Join(tmpDir, "nonexistent.txt"), wantErr: true, errType: "not found"},
		{name: "empty path", path: "", wantErr: true, errType: "empty"},
		{name: "directory instead of file", path: testDir, wantErr: true, errType: "directory"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckFileExists(tt.path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckFileExists() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				return
			}
			fileErr, ok := err.(*FileExistsError)
			if !ok {
				t.Fatalf("error type = %T, want *FileExistsError", err)
			}
			if !strings.Contains(fileErr.Message, tt.errType) {
				t.Errorf("message %q does not mention %q", fileErr.Message, tt.errType)
			}
		})
	}
}

func TestCheckWritableDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "outputs")

	if err := CheckWritableDir(dir); err != nil {
		t.Fatalf("CheckWritableDir() error = %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("probe file left behind: %v", entries)
	}

	if err := CheckWritableDir(""); err == nil {
		t.Error("expected error for empty path")
	}

	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0644); err != nil {
		t.Fatal(err)
	}
	if err := CheckWritableDir(file); err == nil {
		t.Error("expected error when path is a file")
	}
}
