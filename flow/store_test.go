package flow_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nanoflow-dev/nanoflow/flow"
)

func TestStoreGetSetRoundTrip(t *testing.T) {
	s := flow.NewStore("s", map[string]flow.TypeTag{"text": flow.TypeString})
	if err := s.Set("text", "hi"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, err := s.Get("text")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != "hi" {
		t.Fatalf("got %v, want hi", v)
	}
}

func TestStoreGetMissingKey(t *testing.T) {
	s := flow.NewStore("s", nil)
	if _, err := s.Get("nope"); err == nil {
		t.Fatal("expected MissingKey error")
	}
}

// Schema violation: set("n", "3") against {n: int} raises TypeKind, get("n")
// retains the previous value, and the observer is not fired.
func TestStoreSchemaViolationLeavesValueAndSkipsObserver(t *testing.T) {
	s := flow.NewStore("s", map[string]flow.TypeTag{"n": flow.TypeInt})
	if err := s.Set("n", 3); err != nil {
		t.Fatalf("initial Set: %v", err)
	}

	calls := 0
	s.AddObserver(func(key string, old, newValue any) { calls++ })

	err := s.Set("n", "3")
	if err == nil {
		t.Fatal("expected TypeKind error")
	}

	v, err := s.Get("n")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v != 3 {
		t.Fatalf("value changed after rejected write: got %v, want 3", v)
	}
	if calls != 0 {
		t.Fatalf("observer fired %d times on a rejected write, want 0", calls)
	}
}

func TestStoreIntAcceptsWholeNumberFloat(t *testing.T) {
	s := flow.NewStore("s", map[string]flow.TypeTag{"n": flow.TypeInt})
	if err := s.Set("n", float64(4)); err != nil {
		t.Fatalf("whole-number float should satisfy an int schema: %v", err)
	}
	if err := s.Set("n", 4.5); err == nil {
		t.Fatal("fractional float must not satisfy an int schema")
	}
}

func TestStoreFloatSchemaAcceptsWholeNumberFloat(t *testing.T) {
	s := flow.NewStore("s", map[string]flow.TypeTag{"ratio": flow.TypeFloat})
	if err := s.Set("ratio", 4.0); err != nil {
		t.Fatalf("whole-number float should satisfy a float schema: %v", err)
	}
	v, err := s.Get("ratio")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, ok := v.(float64); !ok {
		t.Fatalf("got(ratio) = %T, want float64", v)
	}
}

func TestStoreObserverDispatchOrderAndCount(t *testing.T) {
	s := flow.NewStore("s", nil)
	var seen []string
	s.AddObserver(func(key string, old, newValue any) { seen = append(seen, key+"=1") })
	s.AddObserver(func(key string, old, newValue any) { seen = append(seen, key+"=2") })

	for _, k := range []string{"a", "b", "c"} {
		if err := s.Set(k, 1); err != nil {
			t.Fatalf("Set(%s): %v", k, err)
		}
	}

	want := []string{"a=1", "a=2", "b=1", "b=2", "c=1", "c=2"}
	if len(seen) != len(want) {
		t.Fatalf("got %d observer calls, want %d: %v", len(seen), len(want), seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("call %d: got %s, want %s", i, seen[i], want[i])
		}
	}
}

func TestStoreRemoveObserver(t *testing.T) {
	s := flow.NewStore("s", nil)
	calls := 0
	h := s.AddObserver(func(key string, old, newValue any) { calls++ })
	_ = s.Set("a", 1)
	s.RemoveObserver(h)
	_ = s.Set("a", 2)
	if calls != 1 {
		t.Fatalf("got %d calls after removal, want 1", calls)
	}
	if s.ObserverCount() != 0 {
		t.Fatalf("got %d observers, want 0", s.ObserverCount())
	}
}

func TestStoreSnapshotRestoreRoundTrip(t *testing.T) {
	s := flow.NewStore("orig", map[string]flow.TypeTag{"text": flow.TypeString, "n": flow.TypeInt})
	_ = s.Set("text", "hi")
	_ = s.Set("n", 7)

	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "snap.json")
	if err := s.Snapshot(path); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("snapshot file missing: %v", err)
	}

	restored, err := flow.Restore(path)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored.Name() != "orig" {
		t.Fatalf("got name %q, want orig", restored.Name())
	}
	for _, k := range s.Keys() {
		want, _ := s.Get(k)
		got, err := restored.Get(k)
		if err != nil {
			t.Fatalf("restored missing key %s: %v", k, err)
		}
		if got != want {
			t.Fatalf("key %s: got %v, want %v", k, got, want)
		}
	}
}

func TestStoreRestoreMalformed(t *testing.T) {
	if _, err := flow.FromJSON([]byte("not json")); err == nil {
		t.Fatal("expected Malformed error for invalid JSON")
	}
}
