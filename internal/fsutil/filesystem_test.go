package fsutil

import (
	"errors"
	"io/fs"
	"path/filepath"
	"testing"
)

func TestOSFileSystem_Exists(t *testing.T) {
	fsys := OSFileSystem{}

	if !fsys.Exists("filesystem.go") {
		t.Error("expected filesystem.go to exist")
	}

	if fsys.Exists("nonexistent_file_xyz.go") {
		t.Error("expected nonexistent file to not exist")
	}
}

func TestOSFileSystem_WriteFileAtomic(t *testing.T) {
	fsys := OSFileSystem{}
	path := filepath.Join(t.TempDir(), "anchors.json")

	if err := WriteFileAtomic(fsys, path, []byte("one"), 0o644); err != nil {
		t.Fatalf("WriteFileAtomic failed: %v", err)
	}
	if err := WriteFileAtomic(fsys, path, []byte("two"), 0o644); err != nil {
		t.Fatalf("WriteFileAtomic failed: %v", err)
	}

	data, err := fsys.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "two" {
		t.Errorf("expected %q, got %q", "two", data)
	}
	if fsys.Exists(filepath.Join(filepath.Dir(path), ".anchors.json.tmp")) {
		t.Error("temporary file left behind")
	}
}

func TestMemoryFileSystem_WriteAndRead(t *testing.T) {
	mfs := NewMemoryFileSystem()

	testData := []byte("hello, world")
	if err := mfs.WriteFile("/test.txt", testData, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	data, err := mfs.ReadFile("/test.txt")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != string(testData) {
		t.Errorf("expected %q, got %q", testData, data)
	}

	// Mutating the returned slice must not change the stored file.
	data[0] = 'j'
	again, _ := mfs.ReadFile("/test.txt")
	if string(again) != string(testData) {
		t.Errorf("stored data changed to %q", again)
	}
}

func TestMemoryFileSystem_ReadMissing(t *testing.T) {
	mfs := NewMemoryFileSystem()

	_, err := mfs.ReadFile("/missing.txt")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
	if err := mfs.Remove("/missing.txt"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected ErrNotExist from Remove, got %v", err)
	}
	if err := mfs.Rename("/missing.txt", "/b.txt"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected ErrNotExist from Rename, got %v", err)
	}
}

func TestMemoryFileSystem_WriteFileAtomic(t *testing.T) {
	mfs := NewMemoryFileSystem()

	if err := WriteFileAtomic(mfs, "/data/anchors.json", []byte("{}"), 0o644); err != nil {
		t.Fatalf("WriteFileAtomic failed: %v", err)
	}
	files := mfs.Files()
	if len(files) != 1 || files[0] != "/data/anchors.json" {
		t.Errorf("unexpected files %v", files)
	}
}

func TestMemoryFileSystem_FailWrites(t *testing.T) {
	mfs := NewMemoryFileSystem()
	if err := mfs.WriteFile("/a.json", []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("disk full")
	mfs.FailWrites = boom
	if err := WriteFileAtomic(mfs, "/a.json", []byte("new"), 0o644); !errors.Is(err, boom) {
		t.Errorf("expected disk full, got %v", err)
	}

	data, _ := mfs.ReadFile("/a.json")
	if string(data) != "old" {
		t.Errorf("expected old contents to survive, got %q", data)
	}
}
