package llm

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mnema-ai/mnema/internal/domain"
)

// ResponseCache is a content-addressed on-disk cache of model responses.
// Each entry is one JSON file named by its 128-bit fingerprint. Writes go
// through a temp file plus rename, so concurrent readers never observe a
// torn entry; the filesystem is the concurrency boundary.
type ResponseCache struct {
	dir string
	ttl time.Duration
}

type cacheEntry struct {
	Prompt    string `json:"prompt"`
	Response  string `json:"response"`
	Timestamp int64  `json:"timestamp"`
}

// NewResponseCache creates a cache rooted at dir. A non-positive ttl falls
// back to one hour.
func NewResponseCache(dir string, ttl time.Duration) (*ResponseCache, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &ResponseCache{dir: dir, ttl: ttl}, nil
}

// Fingerprint derives the content address of a cacheable call: a key-sorted
// canonical JSON dump of the tuple, hashed to 32 hex characters.
func Fingerprint(prompt string, role *domain.RoleContext, history []domain.Turn) string {
	payload := map[string]any{
		"prompt": prompt,
	}
	if role != nil {
		payload["role"] = map[string]any{
			"name":            role.Name,
			"personality":     role.Personality,
			"speaking_style":  role.SpeakingStyle,
			"knowledge_areas": role.KnowledgeAreas,
			"behaviors":       role.Behaviors,
			"tone_guidance":   role.ToneGuidance,
		}
	}
	if len(history) > 0 {
		turns := make([]map[string]any, len(history))
		for i, t := range history {
			turns[i] = map[string]any{"role": t.Role, "content": t.Content}
		}
		payload["history"] = turns
	}

	// encoding/json sorts map keys, so this dump is canonical.
	raw, _ := json.Marshal(payload)
	sum := md5.Sum(raw)
	return hex.EncodeToString(sum[:])
}

func (c *ResponseCache) path(fingerprint string) string {
	return filepath.Join(c.dir, fingerprint+".json")
}

// Get returns the cached response for fingerprint if it exists and is
// younger than the TTL. Expired entries count as misses and are removed by
// the next sweep.
func (c *ResponseCache) Get(fingerprint string) (string, bool) {
	raw, err := os.ReadFile(c.path(fingerprint))
	if err != nil {
		return "", false
	}
	var entry cacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return "", false
	}
	if time.Since(time.Unix(entry.Timestamp, 0)) > c.ttl {
		return "", false
	}
	return entry.Response, true
}

// Set writes an entry atomically via temp file and rename.
func (c *ResponseCache) Set(fingerprint, prompt, response string) error {
	raw, err := json.Marshal(cacheEntry{
		Prompt:    prompt,
		Response:  response,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	tmp, err := os.CreateTemp(c.dir, "entry-*.tmp")
	if err != nil {
		return fmt.Errorf("create cache temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close cache temp file: %w", err)
	}
	if err := os.Rename(tmpName, c.path(fingerprint)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("publish cache entry: %w", err)
	}
	return nil
}

// Sweep removes every entry older than maxAge (the TTL when maxAge <= 0)
// and returns the number removed.
func (c *ResponseCache) Sweep(maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		maxAge = c.ttl
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, fmt.Errorf("read cache dir: %w", err)
	}

	removed := 0
	cutoff := time.Now().Add(-maxAge)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(c.dir, e.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var entry cacheEntry
		if err := json.Unmarshal(raw, &entry); err != nil || time.Unix(entry.Timestamp, 0).Before(cutoff) {
			if os.Remove(path) == nil {
				removed++
			}
		}
	}
	return removed, nil
}
