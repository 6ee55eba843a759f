package main

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dreamware/hashcrack/internal/cluster"
	"github.com/dreamware/hashcrack/internal/config"
	"github.com/dreamware/hashcrack/internal/digest"
	"github.com/dreamware/hashcrack/internal/membership"
	"github.com/dreamware/hashcrack/internal/worker"
)

const header = "ID;Name;PasswordChars;PasswordLength;Password;Hint1"

func testConfig(t *testing.T, input string) config.Coordinator {
	t.Helper()
	dir := t.TempDir()
	in := filepath.Join(dir, "passwords.csv")
	require.NoError(t, os.WriteFile(in, []byte(input), 0o600))

	addr := freeAddr(t)
	return config.Coordinator{
		Logging:         config.Logging{Level: "debug", Format: "console"},
		ID:              "coordinator",
		Listen:          addr,
		PublicAddr:      "http://" + addr,
		InputPath:       in,
		InputSeparator:  ";",
		InputSkipHeader: true,
		InputBatchSize:  10,
		OutputPath:      filepath.Join(dir, "out.txt"),
		HealthInterval:  time.Minute,
		HealthMaxFails:  3,
		WelcomeFPRate:   0.01,
		WelcomeCapacity: 1000,
		BulkChunkSize:   4096,
		WorkerCapacity:  1,
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestRunEmptyInput(t *testing.T) {
	cfg := testConfig(t, header+"\n")

	err := run(context.Background(), cfg, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	out, err := os.ReadFile(cfg.OutputPath)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRunMissingInput(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.InputPath = filepath.Join(t.TempDir(), "missing.csv")

	err := run(context.Background(), cfg, zaptest.NewLogger(t).Sugar())
	assert.ErrorContains(t, err, "open input")
}

func TestRunMissingWordlist(t *testing.T) {
	cfg := testConfig(t, header+"\n")
	cfg.WelcomeWordlist = filepath.Join(t.TempDir(), "words.txt")

	err := run(context.Background(), cfg, zaptest.NewLogger(t).Sugar())
	assert.ErrorContains(t, err, "open wordlist")
}

func TestRunCanceledWithoutWorkers(t *testing.T) {
	line := strings.Join([]string{"1", "Bob", "AB", "1", digest.Hex("A"), digest.Hex("A")}, ";")
	cfg := testConfig(t, header+"\n"+line+"\n")

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- run(ctx, cfg, zaptest.NewLogger(t).Sugar()) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func TestRunWithWorker(t *testing.T) {
	lines := []string{
		header,
		strings.Join([]string{"1", "Bob", "AB", "1", digest.Hex("B"), digest.Hex("A")}, ";"),
		strings.Join([]string{"2", "Ann", "XYZ", "2", digest.Hex("ZZ"), digest.Hex("YX")}, ";"),
	}
	cfg := testConfig(t, strings.Join(lines, "\n")+"\n")
	log := zaptest.NewLogger(t).Sugar()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- run(ctx, cfg, log) }()

	watcher := membership.NewWatcher(cfg.PublicAddr, membership.Options{Interval: 20 * time.Millisecond, MaxFailures: 1000}, log.Named("watcher"))
	go watcher.Run(ctx)
	w := worker.New(cluster.Member{ID: "w1", Addr: "http://w1", Roles: []string{cluster.RoleWorker}}, log.Named("w1"), worker.Options{})
	werrc := make(chan error, 1)
	go func() { werrc <- w.Run(ctx, watcher.Events()) }()

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(30 * time.Second):
		t.Fatal("coordinator did not finish")
	}
	select {
	case err := <-werrc:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not stop")
	}

	out, err := os.ReadFile(cfg.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, "Password of Bob: B (hints: A)\nPassword of Ann: ZZ (hints: YX)\n", string(out))
}
