package media

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	perr "shinga/internal/platform/errors"

	"github.com/spf13/afero"
)

var pngBody = append([]byte("\x89PNG\r\n\x1a\n"), []byte(strings.Repeat("px", 64))...)

type coverServer struct {
	*httptest.Server
	hits  atomic.Int32
	gate  chan struct{}
	mu    sync.Mutex
	files map[string]served
}

type served struct {
	body   []byte
	ctype  string
	status int
	noLen  bool
}

func newCoverServer(t *testing.T) *coverServer {
	t.Helper()
	cs := &coverServer{files: map[string]served{}}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.hits.Add(1)
		if cs.gate != nil {
			<-cs.gate
		}
		cs.mu.Lock()
		f, ok := cs.files[r.URL.Path]
		cs.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		if f.ctype != "" {
			w.Header().Set("Content-Type", f.ctype)
		}
		if !f.noLen {
			w.Header().Set("Content-Length", strconv.Itoa(len(f.body)))
		}
		if f.status != 0 {
			w.WriteHeader(f.status)
		}
		if f.noLen {
			w.(http.Flusher).Flush()
		}
		_, _ = w.Write(f.body)
	}))
	t.Cleanup(cs.Close)
	return cs
}

func (cs *coverServer) serve(path string, f served) string {
	cs.mu.Lock()
	cs.files[path] = f
	cs.mu.Unlock()
	return cs.URL + path
}

func newTestFetcher(cfg Config) (*Fetcher, *FsStore, afero.Fs) {
	fs := afero.NewMemMapFs()
	st := NewFsStore(fs, "/covers", "/media/covers/")
	return New(cfg, st, nil), st, fs
}

func TestFetchAndStore_StoresShardedByHash(t *testing.T) {
	t.Parallel()

	cs := newCoverServer(t)
	u := cs.serve("/a.png", served{body: pngBody, ctype: "image/png"})
	f, _, fs := newTestFetcher(Config{})

	a, err := f.FetchAndStore(context.Background(), u)
	if err != nil {
		t.Fatalf("FetchAndStore: %v", err)
	}
	if len(a.Hash) != 32 || a.ContentType != "image/png" || a.Size != int64(len(pngBody)) {
		t.Fatalf("asset = %+v", a)
	}
	wantRel := a.Hash[:2] + "/" + a.Hash[2:4] + "/" + a.Hash + ".png"
	if a.Path != wantRel || a.PublicURL != "/media/covers/"+wantRel {
		t.Fatalf("paths = %q %q", a.Path, a.PublicURL)
	}
	got, err := afero.ReadFile(fs, "/covers/"+wantRel)
	if err != nil || string(got) != string(pngBody) {
		t.Fatalf("stored bytes mismatch: %v", err)
	}
}

func TestFetchAndStore_SameURLDownloadsOnce(t *testing.T) {
	t.Parallel()

	cs := newCoverServer(t)
	u := cs.serve("/b.png", served{body: pngBody, ctype: "image/png"})
	f, _, _ := newTestFetcher(Config{})

	a1, err := f.FetchAndStore(context.Background(), u)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	a2, err := f.FetchAndStore(context.Background(), u)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if a1 != a2 {
		t.Fatalf("assets differ: %+v vs %+v", a1, a2)
	}
	if n := cs.hits.Load(); n != 1 {
		t.Fatalf("downloads = %d, want 1", n)
	}
}

func TestFetchAndStore_ConcurrentCallsShareDownload(t *testing.T) {
	t.Parallel()

	cs := newCoverServer(t)
	cs.gate = make(chan struct{})
	u := cs.serve("/c.png", served{body: pngBody, ctype: "image/png"})
	f, _, _ := newTestFetcher(Config{})

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.FetchAndStore(context.Background(), u)
			errs <- err
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(cs.gate)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("FetchAndStore: %v", err)
		}
	}
	if got := cs.hits.Load(); got != 1 {
		t.Fatalf("downloads = %d, want 1", got)
	}
}

func TestFetchAndStore_SameBytesStoredOnce(t *testing.T) {
	t.Parallel()

	cs := newCoverServer(t)
	u1 := cs.serve("/one.png", served{body: pngBody, ctype: "image/png"})
	u2 := cs.serve("/two.png", served{body: pngBody})
	f, _, fs := newTestFetcher(Config{})

	a1, err := f.FetchAndStore(context.Background(), u1)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	a2, err := f.FetchAndStore(context.Background(), u2)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if a1.Hash != a2.Hash || a1.Path != a2.Path || a2.SourceURL != u2 {
		t.Fatalf("assets = %+v / %+v", a1, a2)
	}
	entries, _ := afero.Glob(fs, "/covers/"+a1.Hash[:2]+"/"+a1.Hash[2:4]+"/*")
	if len(entries) != 1 {
		t.Fatalf("files on disk = %v, want 1", entries)
	}
}

func TestFetchAndStore_Rejections(t *testing.T) {
	t.Parallel()

	cs := newCoverServer(t)
	big := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 2048)...)
	cases := map[string]string{
		"too big declared": cs.serve("/big.png", served{body: big, ctype: "image/png"}),
		"too big chunked":  cs.serve("/bigc.png", served{body: big, ctype: "image/png", noLen: true}),
		"mismatch":         cs.serve("/lie.jpg", served{body: pngBody, ctype: "image/jpeg"}),
		"html":             cs.serve("/page", served{body: []byte("<html><body>blocked</body></html>"), ctype: "text/html"}),
		"status":           cs.serve("/err.png", served{body: pngBody, ctype: "image/png", status: http.StatusForbidden}),
		"missing":          cs.URL + "/nope.png",
		"bad url":          "ftp://example.org/x.png",
	}
	f, _, _ := newTestFetcher(Config{MaxBytes: 1024})
	for name, u := range cases {
		_, err := f.FetchAndStore(context.Background(), u)
		if err == nil {
			t.Fatalf("%s: expected error", name)
		}
		if !perr.IsCode(err, perr.ErrorCodeMedia) {
			t.Fatalf("%s: code = %v (%v)", name, perr.CodeOf(err), err)
		}
	}
}

func TestFsStore_ExistsAndIdempotentWrite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := NewFsStore(afero.NewMemMapFs(), "/root", "")
	hash := "abcdef0123456789abcdef0123456789"

	if _, ok, err := st.Exists(ctx, hash); ok || err != nil {
		t.Fatalf("Exists on empty store = %v %v", ok, err)
	}
	rel, err := st.StoreAsset(ctx, hash, "webp", []byte("one"))
	if err != nil || rel != "ab/cd/"+hash+".webp" {
		t.Fatalf("StoreAsset = %q %v", rel, err)
	}
	if _, err := st.StoreAsset(ctx, hash, "webp", []byte("two")); err != nil {
		t.Fatalf("second StoreAsset: %v", err)
	}
	a, ok, err := st.Exists(ctx, hash)
	if err != nil || !ok {
		t.Fatalf("Exists = %v %v", ok, err)
	}
	if a.Size != 3 || a.ContentType != "image/webp" || a.PublicURL != "/ab/cd/"+hash+".webp" {
		t.Fatalf("asset = %+v", a)
	}
}
