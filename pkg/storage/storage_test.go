package storage

import (
	"encoding/json"
	"fmt"
	"testing"
)

func openKVs(t *testing.T) map[string]KV {
	t.Helper()
	pkv, err := NewPebbleKV(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open pebble: %v", err)
	}
	t.Cleanup(func() { pkv.Close() })
	return map[string]KV{"memory": NewMemKV(), "pebble": pkv}
}

func TestKVApplyAndScan(t *testing.T) {
	for name, kv := range openKVs(t) {
		t.Run(name, func(t *testing.T) {
			err := kv.Apply([]Write{
				{Key: []byte("q:b"), Value: []byte("2")},
				{Key: []byte("q:a"), Value: []byte("1")},
				{Key: []byte("r:a"), Value: []byte("x")},
			})
			if err != nil {
				t.Fatalf("apply: %v", err)
			}

			var keys []string
			err = ScanPrefix(kv, []byte("q:"), func(k, _ []byte) error {
				keys = append(keys, string(k))
				return nil
			})
			if err != nil {
				t.Fatalf("scan: %v", err)
			}
			if fmt.Sprint(keys) != "[q:a q:b]" {
				t.Errorf("keys = %v, want [q:a q:b]", keys)
			}

			if err := kv.Apply([]Write{{Key: []byte("q:a")}}); err != nil {
				t.Fatalf("delete: %v", err)
			}
			v, err := kv.Get([]byte("q:a"))
			if err != nil || v != nil {
				t.Errorf("Get after delete = %q, %v; want nil, nil", v, err)
			}
		})
	}
}

func TestPrefixUpperBound(t *testing.T) {
	if got := string(PrefixUpperBound([]byte("q:"))); got != "q;" {
		t.Errorf("upper bound = %q, want %q", got, "q;")
	}
	if got := PrefixUpperBound([]byte{0xff, 0xff}); got != nil {
		t.Errorf("upper bound of all-0xff = %v, want nil", got)
	}
}

func TestEventLogRecentAndReopen(t *testing.T) {
	dir := t.TempDir()
	kv, err := NewPebbleKV(dir)
	if err != nil {
		t.Fatal(err)
	}
	log, err := NewEventLog(kv)
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 5; i++ {
		if _, err := log.Append(map[string]int{"n": i}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	kv.Close()

	kv, err = NewPebbleKV(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer kv.Close()
	log, err = NewEventLog(kv)
	if err != nil {
		t.Fatal(err)
	}
	if log.Seq() != 5 {
		t.Fatalf("seq after reopen = %d, want 5", log.Seq())
	}

	recent, err := log.Recent(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 {
		t.Fatalf("len(recent) = %d, want 2", len(recent))
	}
	var first struct{ N int }
	if err := json.Unmarshal(recent[0], &first); err != nil {
		t.Fatal(err)
	}
	if first.N != 5 {
		t.Errorf("newest record n = %d, want 5", first.N)
	}
}
