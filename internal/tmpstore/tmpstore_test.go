package tmpstore

import (
	"os"
	"strings"
	"testing"
)

func TestStoreRoundTrip(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	scope, err := s.NewScope()
	if err != nil {
		t.Fatalf("NewScope: %v", err)
	}

	path, err := s.Put(scope, "deposit.zip", strings.NewReader("zipbytes"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if path != s.Path(scope, "deposit.zip") {
		t.Errorf("path = %s, want %s", path, s.Path(scope, "deposit.zip"))
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(b) != "zipbytes" {
		t.Errorf("content = %q", b)
	}

	if err := s.Delete(scope); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected the scope to be gone, stat err = %v", err)
	}
}

func TestScopesAreIndependent(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	a, _ := s.NewScope()
	b, _ := s.NewScope()
	if a == b {
		t.Fatal("scopes must be unique")
	}

	pa, err := s.Put(a, "f.txt", strings.NewReader("aa"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := s.Put(b, "f.txt", strings.NewReader("bb")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := s.Delete(b); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(pa); err != nil {
		t.Errorf("deleting one scope must not touch another: %v", err)
	}
}

func TestPathStripsDirectories(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	scope, _ := s.NewScope()

	// filenames derived from urls must not escape the scope
	got := s.Path(scope, "../../etc/passwd")
	if strings.Contains(got, "..") {
		t.Errorf("path = %s", got)
	}
	if !strings.HasSuffix(got, "passwd") {
		t.Errorf("path = %s", got)
	}
}
