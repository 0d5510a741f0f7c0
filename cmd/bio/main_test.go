package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rexliu/biosdk/pkg/bio"
	"github.com/rexliu/biosdk/pkg/config"
	"github.com/rexliu/biosdk/pkg/host"
	"github.com/rexliu/biosdk/pkg/logging"
	"github.com/rexliu/biosdk/pkg/storage/sqlite"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func newProfile(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	_, err := execute(t, "--profile", dir, "init", "--name", "test")
	require.NoError(t, err)
	return dir
}

// startHost serves a host on the profile's socket.
func startHost(t *testing.T, profile string) *host.Server {
	t.Helper()
	s := host.NewServer(host.WithLogger(logging.Nop()))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		shutdown, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		_ = s.Shutdown(shutdown)
	})
	require.NoError(t, s.ListenUnix(ctx, filepath.Join(profile, "bio.sock")))
	return s
}

func TestInitAndDiag(t *testing.T) {
	dir := newProfile(t)

	_, err := execute(t, "--profile", dir, "init")
	assert.ErrorContains(t, err, "already exists")
	_, err = execute(t, "--profile", dir, "init", "--force", "--name", "test")
	require.NoError(t, err)

	out, err := execute(t, "--profile", dir, "diag")
	require.NoError(t, err)
	assert.Contains(t, out, "Profile: test")
	assert.Contains(t, out, filepath.Join(dir, "bio.sock"))
	assert.Contains(t, out, "Origin: bio-cli://local")
}

func TestCall(t *testing.T) {
	dir := newProfile(t)
	s := startHost(t, dir)
	s.Register("bio_echo", func(_ context.Context, r *host.Request) (any, *bio.ProviderError) {
		return map[string]any{"params": r.Params, "origin": r.Origin}, nil
	})

	out, err := execute(t, "--profile", dir, "call", "bio_echo", `{"a":1}`, "plain")
	require.NoError(t, err)
	assert.JSONEq(t, `{"params":[{"a":1},"plain"],"origin":"bio-cli://local"}`, out)

	_, err = execute(t, "--profile", dir, "call", "bio_nope")
	assert.ErrorContains(t, err, "UNSUPPORTED_METHOD")
}

func TestEmitTargetsApp(t *testing.T) {
	dir := newProfile(t)
	s := startHost(t, dir)
	got := make(chan map[string]any, 1)
	s.Register("host_notify", func(_ context.Context, r *host.Request) (any, *bio.ProviderError) {
		var p map[string]any
		if err := r.Bind(0, &p); err != nil {
			return nil, host.InvalidParams(err)
		}
		got <- p
		return map[string]any{"delivered": 1}, nil
	})

	_, err := execute(t, "--profile", dir, "emit", "--app", "wallet", "chainChanged", "bfmeta")
	require.NoError(t, err)
	p := <-got
	assert.Equal(t, "wallet", p["appId"])
	assert.Equal(t, "chainChanged", p["event"])
	assert.Equal(t, []any{"bfmeta"}, p["args"])
}

func TestWatchReceivesTargetedEvent(t *testing.T) {
	dir := newProfile(t)
	s := startHost(t, dir)

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := execute(t, "--profile", dir, "watch", "--app", "wallet", "--count", "1", "chainChanged")
		done <- result{out, err}
	}()

	require.Eventually(t, func() bool {
		_, ok := s.Slots().DesktopAppSlot("wallet")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, s.Notify("wallet", "chainChanged", "bfmeta"))

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Equal(t, `chainChanged ["bfmeta"]`, strings.TrimSpace(r.out))
	case <-time.After(3 * time.Second):
		t.Fatal("watch did not exit")
	}
}

func TestLaunchURL(t *testing.T) {
	out, err := execute(t, "launch-url", "--url", "https://app.example/", "--app-version", "1.4.0", "--param", "chain=bfmeta")
	require.NoError(t, err)
	assert.Equal(t, "https://app.example/?__rv=1.4.0&chain=bfmeta", strings.TrimSpace(out))

	manifest := filepath.Join(t.TempDir(), "manifest.toml")
	require.NoError(t, os.WriteFile(manifest, []byte("id = \"w\"\nurl = \"https://w.example/\"\nupdatedAt = \"2025-06-01\"\n"), 0o600))
	out, err = execute(t, "launch-url", "--manifest", manifest)
	require.NoError(t, err)
	assert.Equal(t, "https://w.example/?__rv=2025-06-01", strings.TrimSpace(out))

	_, err = execute(t, "launch-url")
	assert.Error(t, err)
}

func TestJournal(t *testing.T) {
	dir := newProfile(t)
	store, err := sqlite.Open(filepath.Join(dir, "journal.db"))
	require.NoError(t, err)
	require.NoError(t, store.Init(context.Background(), config.StorageConfig{}))
	now := time.Now()
	require.NoError(t, store.Record(context.Background(), host.JournalEntry{
		SessionID: "s1", RequestID: "bio_1_1", Method: "bio_sign", ErrorCode: 4001,
		ReceivedAt: now, AnsweredAt: now.Add(3 * time.Millisecond),
	}))
	require.NoError(t, store.Close())

	out, err := execute(t, "--profile", dir, "journal")
	require.NoError(t, err)
	assert.Contains(t, out, "bio_sign")
	assert.Contains(t, out, "error 4001")
	assert.Contains(t, out, "3ms")
}

func TestParseParams(t *testing.T) {
	assert.Equal(t, []any{float64(1), "x", true, map[string]any{"k": "v"}, "{bad"},
		parseParams([]string{"1", "x", "true", `{"k":"v"}`, "{bad"}))
	assert.Empty(t, parseParams(nil))
}
