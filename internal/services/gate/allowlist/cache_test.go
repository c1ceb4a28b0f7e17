package allowlist

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/stonevault/gate/internal/platform/errors"
)

// testClock is a manually advanced clock shared by cache tests.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func fileLoader(t *testing.T, contents string) *Loader {
	t.Helper()
	path := filepath.Join(t.TempDir(), "allowlist.json")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write allowlist: %v", err)
	}
	return &Loader{FilePath: path}
}

func TestCacheServesFreshSnapshotWithoutReload(t *testing.T) {
	clock := newTestClock()
	var fetches atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		w.Write([]byte(`{"minVersion":"1.0.0"}`))
	}))
	defer server.Close()

	loader := &Loader{Remote: RemoteConfig{Repo: "o/r", Path: "p.json", BaseURL: server.URL}}
	cache := NewCache(loader, 5*time.Minute, clock.Now)

	for i := 0; i < 5; i++ {
		cache.Get(context.Background())
	}
	if got := fetches.Load(); got != 1 {
		t.Fatalf("expected a single fetch for fresh reads, got %d", got)
	}

	clock.Advance(6 * time.Minute)
	cache.Get(context.Background())
	if got := fetches.Load(); got != 2 {
		t.Fatalf("expected a refresh after the interval, got %d fetches", got)
	}
}

func TestCacheSingleFlight(t *testing.T) {
	clock := newTestClock()
	var fetches atomic.Int64
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		<-release
		w.Write([]byte(`{"minVersion":"1.0.0"}`))
	}))
	defer server.Close()

	loader := &Loader{Remote: RemoteConfig{Repo: "o/r", Path: "p.json", BaseURL: server.URL}}
	cache := NewCache(loader, 5*time.Minute, clock.Now)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]Snapshot, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = cache.Get(context.Background())
		}(i)
	}
	// Give the goroutines time to pile up on the in-flight refresh,
	// then let the fetch complete.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := fetches.Load(); got != 1 {
		t.Fatalf("expected exactly one fetch for concurrent stale reads, got %d", got)
	}
	for i, snapshot := range results {
		if snapshot.MinVersion() != "1.0.0" {
			t.Errorf("caller %d observed stale snapshot: %q", i, snapshot.MinVersion())
		}
	}
}

func TestCacheFailsClosedWhenAllSourcesMiss(t *testing.T) {
	clock := newTestClock()
	loader := &Loader{FilePath: filepath.Join(t.TempDir(), "absent.json")}
	cache := NewCache(loader, 5*time.Minute, clock.Now)

	snapshot := cache.Get(context.Background())
	if !snapshot.IsDenyAll() {
		t.Fatalf("expected deny-all fallback, got source %q", snapshot.Source())
	}
}

func TestCacheCanceledRefreshKeepsPreviousSnapshot(t *testing.T) {
	clock := newTestClock()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"minVersion":"1.0.0"}`))
	}))
	defer server.Close()

	loader := &Loader{Remote: RemoteConfig{Repo: "o/r", Path: "p.json", BaseURL: server.URL}}
	cache := NewCache(loader, 5*time.Minute, clock.Now)

	first := cache.Get(context.Background())
	if first.MinVersion() != "1.0.0" {
		t.Fatalf("expected initial load, got %q", first.MinVersion())
	}

	clock.Advance(10 * time.Minute)
	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	second := cache.Get(canceled)
	if second.MinVersion() != "1.0.0" {
		t.Fatalf("canceled refresh must keep the previous snapshot, got %q", second.MinVersion())
	}

	// The next get with a live context retries and succeeds.
	third := cache.Get(context.Background())
	if third.MinVersion() != "1.0.0" {
		t.Fatalf("expected retry to reload, got %q", third.MinVersion())
	}
}

func TestCacheForceRefreshBypassesInterval(t *testing.T) {
	clock := newTestClock()
	var fetches atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		w.Write([]byte(`{"minVersion":"1.0.0"}`))
	}))
	defer server.Close()

	loader := &Loader{Remote: RemoteConfig{Repo: "o/r", Path: "p.json", BaseURL: server.URL}}
	cache := NewCache(loader, 5*time.Minute, clock.Now)

	cache.Get(context.Background())
	cache.ForceRefresh(context.Background())
	if got := fetches.Load(); got != 2 {
		t.Fatalf("expected force refresh to fetch again, got %d", got)
	}
}

func TestCacheApply(t *testing.T) {
	newCache := func(t *testing.T) *Cache {
		clock := newTestClock()
		loader := fileLoader(t, `{"proofTokens":["base"],"hashLists":{"client":["aaaa"]},"minVersion":"1.0.0"}`)
		cache := NewCache(loader, 5*time.Minute, clock.Now)
		cache.Get(context.Background())
		return cache
	}

	t.Run("replace", func(t *testing.T) {
		cache := newCache(t)
		view, err := cache.Apply(ApplyReplace, Model{HashLists: map[string][]string{TargetClient: {"BBBB"}}})
		if err != nil {
			t.Fatalf("apply: %v", err)
		}
		if len(view.ProofTokens) != 0 {
			t.Error("replace must drop previous proof tokens")
		}
		if !cache.Snapshot().HasHash("bbbb") {
			t.Error("expected replacement hash in snapshot")
		}
		if cache.Snapshot().HasHash("aaaa") {
			t.Error("expected previous hash gone after replace")
		}
		if cache.Snapshot().Source() != SourceRuntimeOverride {
			t.Errorf("expected runtime-override source, got %q", cache.Snapshot().Source())
		}
	})

	t.Run("merge", func(t *testing.T) {
		cache := newCache(t)
		_, err := cache.Apply(ApplyMerge, Model{HashLists: map[string][]string{TargetClient: {"bbbb"}}})
		if err != nil {
			t.Fatalf("apply: %v", err)
		}
		snapshot := cache.Snapshot()
		if !snapshot.HasHash("aaaa") || !snapshot.HasHash("bbbb") {
			t.Error("merge must union the hash lists")
		}
		if !snapshot.HasProofToken("base") {
			t.Error("merge must keep previous proof tokens")
		}
	})

	t.Run("remove", func(t *testing.T) {
		cache := newCache(t)
		_, err := cache.Apply(ApplyRemove, Model{HashLists: map[string][]string{TargetClient: {"aaaa"}}})
		if err != nil {
			t.Fatalf("apply: %v", err)
		}
		if cache.Snapshot().HasHash("aaaa") {
			t.Error("remove must drop the named hash")
		}
	})

	t.Run("unknown mode leaves policy untouched", func(t *testing.T) {
		cache := newCache(t)
		before := cache.View()
		_, err := cache.Apply(ApplyMode("upsert"), Model{HashLists: map[string][]string{TargetClient: {"bbbb"}}})
		if err == nil {
			t.Fatal("expected error for unknown mode")
		}
		if apperrors.CodeOf(err) != apperrors.CodeAdminInvalidOperation {
			t.Errorf("expected invalid operation code, got %s", apperrors.CodeOf(err))
		}
		after := cache.View()
		if len(after.HashLists[TargetClient]) != len(before.HashLists[TargetClient]) {
			t.Error("failed apply must not mutate the policy")
		}
	})
}

func TestCacheSetCurrentHash(t *testing.T) {
	newCache := func(t *testing.T) *Cache {
		clock := newTestClock()
		loader := fileLoader(t, `{"hashLists":{"client":["aaaa"],"dev":["cccc"],"release":["dddd"]}}`)
		cache := NewCache(loader, 5*time.Minute, clock.Now)
		cache.Get(context.Background())
		return cache
	}

	t.Run("sole entry and cleared lists", func(t *testing.T) {
		cache := newCache(t)
		view, err := cache.SetCurrentHash("EEEE", []string{TargetRelease}, true, true)
		if err != nil {
			t.Fatalf("set current hash: %v", err)
		}
		if got := view.HashLists[TargetRelease]; len(got) != 1 || got[0] != "eeee" {
			t.Errorf("expected exactly one release hash, got %v", got)
		}
		if len(view.HashLists) != 1 {
			t.Errorf("expected other hash lists cleared, got %v", view.HashLists)
		}
	})

	t.Run("append keeps existing entries", func(t *testing.T) {
		cache := newCache(t)
		view, err := cache.SetCurrentHash("eeee", []string{TargetClient}, false, false)
		if err != nil {
			t.Fatalf("set current hash: %v", err)
		}
		if got := view.HashLists[TargetClient]; len(got) != 2 {
			t.Errorf("expected the hash appended next to the existing one, got %v", got)
		}
	})

	t.Run("rejects non-hex hash", func(t *testing.T) {
		cache := newCache(t)
		before := cache.View()
		if _, err := cache.SetCurrentHash("not-hex!", []string{TargetRelease}, true, true); err == nil {
			t.Fatal("expected error for non-hex hash")
		}
		after := cache.View()
		if len(after.HashLists) != len(before.HashLists) {
			t.Error("failed mutation must not change the policy")
		}
	})

	t.Run("requires a target", func(t *testing.T) {
		cache := newCache(t)
		if _, err := cache.SetCurrentHash("eeee", nil, false, false); err == nil {
			t.Fatal("expected error for missing targets")
		}
	})
}

func TestCacheOverrideSurvivesRefresh(t *testing.T) {
	clock := newTestClock()
	loader := fileLoader(t, `{"hashLists":{"client":["aaaa"]}}`)
	cache := NewCache(loader, 5*time.Minute, clock.Now)
	cache.Get(context.Background())

	if _, err := cache.Apply(ApplyReplace, Model{HashLists: map[string][]string{TargetClient: {"bbbb"}}}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	// The override outranks file and remote on the next refresh.
	clock.Advance(10 * time.Minute)
	snapshot := cache.Get(context.Background())
	if snapshot.Source() != SourceRuntimeOverride {
		t.Fatalf("expected override to win refresh, got %q", snapshot.Source())
	}
	if !snapshot.HasHash("bbbb") || snapshot.HasHash("aaaa") {
		t.Error("expected override contents after refresh")
	}
}

func TestCacheClearOverride(t *testing.T) {
	clock := newTestClock()
	loader := fileLoader(t, `{"hashLists":{"client":["aaaa"]}}`)
	cache := NewCache(loader, 5*time.Minute, clock.Now)
	cache.Get(context.Background())

	if _, err := cache.Apply(ApplyReplace, Model{HashLists: map[string][]string{TargetClient: {"bbbb"}}}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	snapshot := cache.ClearOverride(context.Background())
	if snapshot.Source() == SourceRuntimeOverride {
		t.Fatal("expected override cleared")
	}
	if !snapshot.HasHash("aaaa") {
		t.Error("expected file policy restored")
	}
}
