package wisun

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// cacheData is the on-disk shape of wisun_cache.json (spec §6): the
// scan result plus the derived link-local address, nothing else.
type cacheData struct {
	Channel  string `json:"channel"`
	PanID    string `json:"pan_id"`
	Addr     string `json:"addr"`
	IPv6Addr string `json:"ipv6_addr,omitempty"`
}

// loadCache reads and parses the cache file. Any read or parse
// failure is treated as absence, per spec §4.4 ("cache corruption is
// treated as absence") — it is never surfaced as an error.
func loadCache(path string) (*cacheData, bool) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var c cacheData
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, false
	}
	if c.Channel == "" || c.PanID == "" || c.Addr == "" {
		return nil, false
	}
	return &c, true
}

// writeCacheAtomic persists c via write-temp-then-rename, so a reader
// never observes a partially written file.
func writeCacheAtomic(path string, c cacheData) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".wisun_cache-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// deleteCache removes the cache file, ignoring a not-exist error —
// called on confirmed authentication failure (EVENT 24).
func deleteCache(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
