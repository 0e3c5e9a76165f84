package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/and161185/sync-keeper/internal/model"
	grpcserver "github.com/and161185/sync-keeper/internal/server/grpc"
	"github.com/and161185/sync-keeper/internal/service"
	"github.com/and161185/sync-keeper/internal/syncstore"
)

func withTmpConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	return filepath.Join(dir, "synckeeper")
}

func Test_cfgDir_And_Paths(t *testing.T) {
	_ = withTmpConfig(t)
	got := cfgDir()
	base := os.Getenv("XDG_CONFIG_HOME") + "/synckeeper"
	if got != base {
		t.Fatalf("cfgDir=%q, want %q", got, base)
	}
	if !strings.HasPrefix(tokenPath(), base) || !strings.HasSuffix(tokenPath(), "token.json") {
		t.Fatalf("tokenPath unexpected: %s", tokenPath())
	}
	if !strings.HasPrefix(guidPath(), base) || !strings.HasSuffix(guidPath(), "cache_guid") {
		t.Fatalf("guidPath unexpected: %s", guidPath())
	}
}

func Test_token_SaveLoad(t *testing.T) {
	_ = withTmpConfig(t)

	if _, err := loadToken(); err == nil {
		t.Fatalf("expected error when token file missing")
	}
	if err := saveToken("tok", "acc", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("saveToken: %v", err)
	}
	tok, err := loadToken()
	if err != nil || tok != "tok" {
		t.Fatalf("loadToken: tok=%q err=%v", tok, err)
	}
	if err := saveToken("tok2", "acc", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("saveToken expired: %v", err)
	}
	if _, err := loadToken(); err == nil {
		t.Fatalf("want error for expired token")
	}
}

func Test_cacheGUID_Stable(t *testing.T) {
	_ = withTmpConfig(t)

	g1, err := cacheGUID()
	if err != nil || g1 == "" {
		t.Fatalf("cacheGUID: %q %v", g1, err)
	}
	g2, err := cacheGUID()
	if err != nil || g2 != g1 {
		t.Fatalf("cacheGUID changed: %q -> %q (%v)", g1, g2, err)
	}
}

func Test_readAll_File_And_Stdin(t *testing.T) {
	tmp := filepath.Join(t.TempDir(), "f.txt")
	_ = os.WriteFile(tmp, []byte("hello"), 0o600)
	b, err := readAll(tmp)
	if err != nil || string(b) != "hello" {
		t.Fatalf("readAll(file): %q %v", b, err)
	}

	r, w, _ := os.Pipe()
	old := os.Stdin
	os.Stdin = r
	defer func() { os.Stdin = old }()
	go func() { _, _ = io.WriteString(w, "from-stdin"); _ = w.Close() }()
	b, err = readAll("-")
	if err != nil || string(b) != "from-stdin" {
		t.Fatalf("readAll(stdin): %q %v", b, err)
	}
}

func Test_printOut_Formats(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := printOut(&buf, "json", map[string]any{"a": 1}); err != nil {
		t.Fatalf("json: %v", err)
	}
	var m map[string]any
	if json.Unmarshal(buf.Bytes(), &m) != nil || m["a"] != float64(1) {
		t.Fatalf("invalid json: %s", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte("\n  ")) {
		t.Fatalf("json output should indent")
	}

	buf.Reset()
	if err := printOut(&buf, "yaml", map[string]any{"a": 1}); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if strings.TrimSpace(buf.String()) != "a: 1" {
		t.Fatalf("yaml output: %q", buf.String())
	}

	if err := printOut(&buf, "xml", 1); err == nil {
		t.Fatalf("want error for unknown format")
	}
}

func Test_bearerCreds_Metadata(t *testing.T) {
	t.Parallel()

	b := bearerCreds{token: "T", secure: true}
	md, err := b.GetRequestMetadata(context.Background())
	if err != nil {
		t.Fatalf("GetRequestMetadata: %v", err)
	}
	if md["authorization"] != "Bearer T" {
		t.Fatalf("auth header mismatch: %v", md)
	}
	if !b.RequireTransportSecurity() {
		t.Fatalf("secure bearerCreds must require TLS")
	}
	if (bearerCreds{token: "T"}).RequireTransportSecurity() {
		t.Fatalf("plaintext bearerCreds must not require TLS")
	}
}

func Test_loadTLS_Variants(t *testing.T) {
	t.Parallel()

	creds, err := loadTLS("", true)
	if err != nil || creds == nil {
		t.Fatalf("insecure: %v %v", creds, err)
	}
	creds, err = loadTLS("", false)
	if err != nil || creds == nil {
		t.Fatalf("default tls: %v %v", creds, err)
	}
	tmp := filepath.Join(t.TempDir(), "bad.pem")
	_ = os.WriteFile(tmp, []byte("not pem"), 0o600)
	creds, err = loadTLS(tmp, false)
	if err == nil || creds != nil {
		t.Fatalf("bad CA should error, got creds=%v err=%v", creds, err)
	}
}

func startServer(t *testing.T, key string) string {
	t.Helper()
	svc, err := service.NewSyncService(nil, syncstore.DefaultConfig(), 10, nil)
	if err != nil {
		t.Fatalf("NewSyncService: %v", err)
	}
	tokens := service.NewTokenService([]byte(key), time.Hour)
	gs, _ := grpcserver.NewGRPCServer(grpcserver.New(svc, tokens), tokens, grpcserver.Options{})
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)
	return lis.Addr().String()
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func Test_CLI_EndToEnd(t *testing.T) {
	_ = withTmpConfig(t)
	addr := startServer(t, "cli-secret")
	conn := []string{"--plaintext", "--addr", addr}

	if _, err := runCLI(t, "changes", "--plaintext", "--addr", addr); err == nil {
		t.Fatalf("changes without a token should fail")
	}
	if _, err := runCLI(t, "token", "--key", "cli-secret"); err != nil {
		t.Fatalf("token: %v", err)
	}
	// the first feed read materializes the bookmark folders
	if _, err := runCLI(t, append(conn, "changes")...); err != nil {
		t.Fatalf("bootstrap changes: %v", err)
	}

	out, err := runCLI(t, append(conn, "bookmark", "--title", "Go", "--url", "https://go.dev", "--parent", "tag:bookmark_bar")...)
	if err != nil {
		t.Fatalf("bookmark: %v", err)
	}
	var results []resultView
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("commit output: %v\n%s", err, out)
	}
	if len(results) != 1 || results[0].Result != "SUCCESS" || results[0].ParentID != syncstore.PermanentItemID("bookmark_bar") {
		t.Fatalf("commit results: %+v", results)
	}

	batch := filepath.Join(t.TempDir(), "batch.yaml")
	_ = os.WriteFile(batch, []byte(`
entries:
  - {name: Docs, type: bookmark, folder: true}
  - {id: nope, version: 3, name: Stale, type: bookmark}
`), 0o600)
	out, err = runCLI(t, append(conn, "-o", "yaml", "commit", "-f", batch)...)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	results = nil
	if err := yaml.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("yaml output: %v\n%s", err, out)
	}
	if len(results) != 2 || results[0].Result != "SUCCESS" || results[1].Result != "CONFLICT" || results[1].ID != "nope" {
		t.Fatalf("batch results: %+v", results)
	}

	out, err = runCLI(t, append(conn, "changes", "--all")...)
	if err != nil {
		t.Fatalf("changes: %v", err)
	}
	var view changesView
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("changes output: %v\n%s", err, out)
	}
	var found bool
	for _, e := range view.Entries {
		if e.Type != model.Bookmark.String() {
			t.Fatalf("unexpected type in bookmark feed: %+v", e)
		}
		if e.URL == "https://go.dev" && e.Name == "Go" {
			found = true
		}
	}
	if !found || view.ChangesRemaining != 0 || view.NewTimestamp == 0 {
		t.Fatalf("changes view: %+v", view)
	}
}

func Test_CLI_Version(t *testing.T) {
	out, err := runCLI(t, "version")
	if err != nil || !strings.HasPrefix(out, "sk ") {
		t.Fatalf("version: %q %v", out, err)
	}
}

func Test_fetchChanges_WatchStopsWithContext(t *testing.T) {
	_ = withTmpConfig(t)
	addr := startServer(t, "cli-secret")
	if _, err := runCLI(t, "token", "--key", "cli-secret"); err != nil {
		t.Fatalf("token: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--plaintext", "--addr", addr, "changes", "--watch", "50ms"})
	if err := cmd.ExecuteContext(ctx); err != nil {
		t.Fatalf("watch: %v", err)
	}
	// bootstrap entries are printed once, later polls are empty
	if n := strings.Count(out.String(), `"new_timestamp"`); n != 1 {
		t.Fatalf("want one printed page, got %d:\n%s", n, out.String())
	}
}
