package store

import (
	"errors"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "scripts.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

func TestStoreAddGet(t *testing.T) {
	st := openTestStore(t)

	hash, err := st.Add("hello.js", "print('hi');")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if hash != HashSource("print('hi');") {
		t.Errorf("hash = %q, want content hash", hash)
	}

	sc, err := st.Get(hash)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sc.Name != "hello.js" || sc.Source != "print('hi');" {
		t.Errorf("got %q/%q, want hello.js/print('hi');", sc.Name, sc.Source)
	}
}

func TestStoreGetByPrefix(t *testing.T) {
	st := openTestStore(t)

	hash, err := st.Add("a.js", "1;")
	if err != nil {
		t.Fatal(err)
	}
	sc, err := st.Get(hash[:8])
	if err != nil {
		t.Fatalf("Get by prefix: %v", err)
	}
	if sc.Hash != hash {
		t.Errorf("hash = %q, want %q", sc.Hash, hash)
	}
}

func TestStoreAddIdempotent(t *testing.T) {
	st := openTestStore(t)

	h1, err := st.Add("a.js", "1;")
	if err != nil {
		t.Fatal(err)
	}
	h2, err := st.Add("b.js", "1;")
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Errorf("same source hashed differently: %q vs %q", h1, h2)
	}
	scripts, err := st.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(scripts) != 1 {
		t.Errorf("got %d scripts, want 1", len(scripts))
	}
}

func TestStoreNotFound(t *testing.T) {
	st := openTestStore(t)

	if _, err := st.Get("deadbeef"); !errors.Is(err, ErrScriptNotFound) {
		t.Errorf("Get of missing hash = %v, want ErrScriptNotFound", err)
	}
}

func TestStoreList(t *testing.T) {
	st := openTestStore(t)

	if _, err := st.Add("a.js", "1;"); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Add("b.js", "2;"); err != nil {
		t.Fatal(err)
	}
	scripts, err := st.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(scripts) != 2 {
		t.Errorf("got %d scripts, want 2", len(scripts))
	}
}

func TestStoreDelete(t *testing.T) {
	st := openTestStore(t)

	hash, err := st.Add("a.js", "1;")
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Delete(hash); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := st.Get(hash); !errors.Is(err, ErrScriptNotFound) {
		t.Errorf("Get after delete = %v, want ErrScriptNotFound", err)
	}
	if err := st.Delete(hash); !errors.Is(err, ErrScriptNotFound) {
		t.Errorf("second Delete = %v, want ErrScriptNotFound", err)
	}
}
