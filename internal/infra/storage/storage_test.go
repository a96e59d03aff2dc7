package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAtomicWriteFileCreatesAndReplaces(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "session.bin")

	// Первая запись создаёт каталог и файл.
	if err := AtomicWriteFile(path, []byte("first")); err != nil {
		t.Fatalf("AtomicWriteFile() error: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(got) != "first" {
		t.Fatalf("content = %q, want %q", got, "first")
	}

	// Повторная запись атомарно заменяет содержимое.
	if err := AtomicWriteFile(path, []byte("second")); err != nil {
		t.Fatalf("AtomicWriteFile() replace error: %v", err)
	}
	got, err = os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(got) != "second" {
		t.Fatalf("content = %q, want %q", got, "second")
	}

	// Временные файлы не должны оставаться в каталоге.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != filepath.Base(path) {
			t.Errorf("leftover file %q in target dir", e.Name())
		}
	}
}

func TestAtomicWriteFilePermissions(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "session.bin")
	if err := AtomicWriteFile(path, []byte("secret")); err != nil {
		t.Fatalf("AtomicWriteFile() error: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("perm = %o, want 600", perm)
	}
}

func TestEnsureDirNoDirComponent(t *testing.T) {
	t.Parallel()

	// Путь без каталога не должен ничего создавать и не должен падать.
	if err := EnsureDir("plain-file.bin"); err != nil {
		t.Fatalf("EnsureDir() error: %v", err)
	}
}
