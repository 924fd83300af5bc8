// Package hostkeys implements the gateway's durable host-key trust store:
// a PocketBase-backed table of (host, port, algorithm) -> public key,
// consulted by the SSH host-key verifier before accepting any unknown
// remote key.
package hostkeys

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"sync"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
)

// Status is the outcome of a trust-store lookup.
type Status string

const (
	Trusted Status = "trusted"
	Mismatch Status = "mismatch"
	Unknown Status = "unknown"
)

// Record is one trusted host-key row.
type Record struct {
	Host        string
	Port        int
	Algorithm   string
	PublicKey   []byte // marshaled key bytes
	Fingerprint string
	Comment     string
	AddedBy     string
}

// Store is the trust store. It keeps an in-memory cache so lookups never
// block on the database; mutations go through a single mutex so writers
// serialise, matching the component design's "single writer" rule.
type Store struct {
	app core.App

	mu    sync.RWMutex
	cache map[string]Record // key: host|port|algorithm
}

// New builds a Store backed by app's "host_keys" collection and warms the
// in-memory cache from the database.
func New(app core.App) (*Store, error) {
	s := &Store{app: app, cache: map[string]Record{}}
	if err := s.reload(); err != nil {
		return nil, fmt.Errorf("hostkeys: initial load: %w", err)
	}
	return s, nil
}

func cacheKey(host string, port int, algorithm string) string {
	return host + "|" + strconv.Itoa(port) + "|" + algorithm
}

// ComputeFingerprint renders the SHA256 fingerprint of a marshaled public
// key, deterministic across calls: "SHA256:" + unpadded-base64(sha256(key)).
func ComputeFingerprint(keyBytes []byte) string {
	sum := sha256.Sum256(keyBytes)
	return "SHA256:" + base64.RawStdEncoding.EncodeToString(sum[:])
}

func (s *Store) reload() error {
	records, err := s.app.FindAllRecords("host_keys")
	if err != nil {
		return err
	}
	cache := make(map[string]Record, len(records))
	for _, rec := range records {
		pk, err := base64.StdEncoding.DecodeString(rec.GetString("public_key"))
		if err != nil {
			continue
		}
		r := Record{
			Host:        rec.GetString("host"),
			Port:        rec.GetInt("port"),
			Algorithm:   rec.GetString("algorithm"),
			PublicKey:   pk,
			Fingerprint: rec.GetString("fingerprint"),
			AddedBy:     rec.GetString("added_by"),
		}
		cache[cacheKey(r.Host, r.Port, r.Algorithm)] = r
	}
	s.mu.Lock()
	s.cache = cache
	s.mu.Unlock()
	return nil
}

// Lookup classifies a presented key against the stored row for
// (host, port, algorithm). Non-blocking: served entirely from the cache.
func (s *Store) Lookup(host string, port int, algorithm string, presentedKey []byte) (Status, []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.cache[cacheKey(host, port, algorithm)]
	if !ok {
		return Unknown, nil
	}
	if string(row.PublicKey) == string(presentedKey) {
		return Trusted, row.PublicKey
	}
	return Mismatch, row.PublicKey
}

// AddKnownHost upserts the trusted key for (host, port, algorithm).
func (s *Store) AddKnownHost(host string, port int, algorithm string, key []byte, comment, addedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fingerprint := ComputeFingerprint(key)
	collection, err := s.app.FindCollectionByNameOrId("host_keys")
	if err != nil {
		return fmt.Errorf("hostkeys: find collection: %w", err)
	}

	rec, err := s.app.FindFirstRecordByFilter(
		"host_keys",
		"host = {:host} && port = {:port} && algorithm = {:algorithm}",
		dbx.Params{"host": host, "port": port, "algorithm": algorithm},
	)
	if err != nil {
		rec = core.NewRecord(collection)
	}

	rec.Set("host", host)
	rec.Set("port", port)
	rec.Set("algorithm", algorithm)
	rec.Set("public_key", base64.StdEncoding.EncodeToString(key))
	rec.Set("fingerprint", fingerprint)
	rec.Set("added_by", addedBy)

	if err := s.app.Save(rec); err != nil {
		return fmt.Errorf("hostkeys: save %s:%d/%s: %w", host, port, algorithm, err)
	}

	s.cache[cacheKey(host, port, algorithm)] = Record{
		Host: host, Port: port, Algorithm: algorithm,
		PublicKey: key, Fingerprint: fingerprint, Comment: comment, AddedBy: addedBy,
	}
	return nil
}

// RemoveHost deletes the row for (host, port, algorithm). If algorithm is
// empty, every algorithm row for (host, port) is removed.
func (s *Store) RemoveHost(host string, port int, algorithm string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	filter := "host = {:host} && port = {:port}"
	params := dbx.Params{"host": host, "port": port}
	if algorithm != "" {
		filter += " && algorithm = {:algorithm}"
		params["algorithm"] = algorithm
	}

	records, err := s.app.FindRecordsByFilter("host_keys", filter, "", 0, 0, params)
	if err != nil {
		return fmt.Errorf("hostkeys: find for removal: %w", err)
	}
	for _, rec := range records {
		if err := s.app.Delete(rec); err != nil {
			return fmt.Errorf("hostkeys: delete %s: %w", rec.Id, err)
		}
		delete(s.cache, cacheKey(rec.GetString("host"), rec.GetInt("port"), rec.GetString("algorithm")))
	}
	return nil
}

// ListHosts enumerates every trusted row.
func (s *Store) ListHosts() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.cache))
	for _, r := range s.cache {
		out = append(out, r)
	}
	return out
}
