package wisun

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCacheRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wisun_cache.json")
	want := cacheData{Channel: "21", PanID: "8888", Addr: "001D12345678ABCD", IPv6Addr: "FE80:0000:0000:0000:021D:1234:5678:ABCD"}

	if err := writeCacheAtomic(path, want); err != nil {
		t.Fatalf("writeCacheAtomic: %v", err)
	}
	got, ok := loadCache(path)
	if !ok {
		t.Fatal("expected cache to load")
	}
	if *got != want {
		t.Fatalf("got %+v, want %+v", *got, want)
	}
}

func TestCacheCorruptionTreatedAsAbsence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wisun_cache.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, ok := loadCache(path); ok {
		t.Fatal("expected corrupted cache to be treated as absent")
	}
}

func TestCacheMissingFieldsTreatedAsAbsent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wisun_cache.json")
	if err := os.WriteFile(path, []byte(`{"channel":"21"}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, ok := loadCache(path); ok {
		t.Fatal("expected partial cache to be treated as absent")
	}
}

func TestCacheDeleteIgnoresMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")
	if err := deleteCache(path); err != nil {
		t.Fatalf("expected nil error for missing file, got %v", err)
	}
}
