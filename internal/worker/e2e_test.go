package worker_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/dreamware/hashcrack/internal/bulk"
	"github.com/dreamware/hashcrack/internal/cluster"
	"github.com/dreamware/hashcrack/internal/coordinator"
	"github.com/dreamware/hashcrack/internal/digest"
	"github.com/dreamware/hashcrack/internal/membership"
	"github.com/dreamware/hashcrack/internal/record"
	"github.com/dreamware/hashcrack/internal/transport"
	"github.com/dreamware/hashcrack/internal/welcome"
	"github.com/dreamware/hashcrack/internal/worker"
)

func csvLine(id int, name, alphabet string, length int, password string, hints ...string) string {
	fields := []string{fmt.Sprint(id), name, alphabet, fmt.Sprint(length), digest.Hex(password)}
	for _, h := range hints {
		fields = append(fields, digest.Hex(h))
	}
	return strings.Join(fields, ";")
}

// gatedSource holds the input back until open is closed, so tests can line
// up their workers first.
type gatedSource struct {
	src  coordinator.Source
	open chan struct{}
}

func (g *gatedSource) NextBatch(ctx context.Context) ([][]string, error) {
	select {
	case <-g.open:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.src.NextBatch(ctx)
}

// testCluster wires a coordinator the way cmd/coordinator does, minus the
// router: the hub on /ws and the member list on /members.
type testCluster struct {
	master *coordinator.Master
	srv    *httptest.Server
	out    *bytes.Buffer
	errc   chan error
	open   chan struct{}
}

func startCluster(t *testing.T, input string, log *zap.SugaredLogger) *testCluster {
	t.Helper()

	hub := transport.NewHub(log.Named("hub"))
	sender, err := bulk.NewSender(hub.SendFragment, 1024)
	require.NoError(t, err)
	blob, err := welcome.Encode(welcome.Build(10_000, 0.01, []string{"password", "letmein"}))
	require.NoError(t, err)

	out := &bytes.Buffer{}
	open := make(chan struct{})
	source := &gatedSource{
		src:  record.NewReader(strings.NewReader(input), record.ReaderOptions{BatchSize: 2, SkipHeader: true}),
		open: open,
	}
	master := coordinator.NewMaster(source, record.NewCollector(out), hub, sender, log.Named("master"), coordinator.Options{
		Welcome: blob,
	})
	hub.SetHandler(master)

	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	t.Cleanup(hub.Close)

	self := cluster.Member{ID: "coordinator", Addr: srv.URL, Roles: []string{cluster.RoleCoordinator}}
	mux.HandleFunc("/members", func(w http.ResponseWriter, r *http.Request) {
		members := append([]cluster.Member{self}, hub.Members()...)
		json.NewEncoder(w).Encode(cluster.MembersResponse{Members: members})
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	errc := make(chan error, 1)
	go func() { errc <- master.Run(ctx) }()

	return &testCluster{master: master, srv: srv, out: out, errc: errc, open: open}
}

func startWorker(t *testing.T, c *testCluster, id string, log *zap.SugaredLogger) (*worker.Worker, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	watcher := membership.NewWatcher(c.srv.URL, membership.Options{Interval: 20 * time.Millisecond}, log.Named(id))
	go watcher.Run(ctx)

	self := cluster.Member{ID: id, Addr: "http://" + id, Roles: []string{cluster.RoleWorker}}
	w := worker.New(self, log.Named(id), worker.Options{})
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx, watcher.Events()) }()
	return w, errc
}

func TestClusterCracksInput(t *testing.T) {
	input := strings.Join([]string{
		"ID;Name;PasswordChars;PasswordLength;Password;Hint1;Hint2",
		csvLine(1, "Alice", "ABC", 2, "CC", "AB"),
		csvLine(2, "Bob", "AB", 1, "A"),
		csvLine(3, "Carol", "ABCD", 2, "DD", "AB", "BC"),
		"garbage",
		csvLine(5, "Dave", "AB", 2, "ZZ"),
		csvLine(6, "Eve", "ABCDE", 3, "EEE", "ABC", "BCD"),
	}, "\n") + "\n"

	log := zaptest.NewLogger(t).Sugar()
	c := startCluster(t, input, log)

	var workers []*worker.Worker
	var errcs []<-chan error
	for i := 1; i <= 3; i++ {
		w, errc := startWorker(t, c, fmt.Sprintf("w%d", i), log)
		workers = append(workers, w)
		errcs = append(errcs, errc)
	}
	require.Eventually(t, func() bool { return len(c.master.Status().Workers) == 3 }, 10*time.Second, 5*time.Millisecond)
	close(c.open)

	select {
	case <-c.master.Done():
	case <-time.After(30 * time.Second):
		t.Fatalf("cluster did not finish: %+v", c.master.Status())
	}
	require.NoError(t, <-c.errc)

	assert.Equal(t, strings.Join([]string{
		"Password of Alice: CC (hints: AB)",
		"Password of Bob: A",
		"Password of Carol: DD (hints: AB, BC)",
		"Password of Dave: <none>",
		"Password of Eve: EEE (hints: ABC, BCD)",
	}, "\n")+"\n", c.out.String())

	st := c.master.Status()
	assert.Equal(t, 5, st.Resolved)
	assert.Equal(t, 1, st.Dropped)

	// Every worker got the shutdown.
	var completed int64
	for i, w := range workers {
		select {
		case err := <-errcs[i]:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Fatalf("worker %d still running", i+1)
		}
		assert.True(t, w.Info().Registered)
		completed += w.Info().TasksCompleted
	}
	assert.Equal(t, int64(10), completed, "two tasks per valid record")
}

func TestClusterSurvivesWorkerLoss(t *testing.T) {
	var lines []string
	lines = append(lines, "ID;Name;PasswordChars;PasswordLength;Password;Hint1")
	for id := 1; id <= 6; id++ {
		lines = append(lines, csvLine(id, fmt.Sprint("user", id), "ABCDEF", 4, "FFFF", "ABCD"))
	}
	input := strings.Join(lines, "\n") + "\n"

	log := zaptest.NewLogger(t).Sugar()
	c := startCluster(t, input, log)

	// The first worker takes a task and drops its connection without
	// answering.
	doomed, err := transport.Dial(context.Background(), c.srv.URL)
	require.NoError(t, err)
	reg, err := cluster.NewEnvelope(cluster.MsgRegister, cluster.Register{
		Member: cluster.Member{ID: "doomed", Roles: []string{cluster.RoleWorker}},
	})
	require.NoError(t, err)
	require.NoError(t, doomed.Send(reg))
	close(c.open)

	for env := range doomed.Receive() {
		if env.Type == cluster.MsgAssignTask {
			break
		}
	}
	require.NoError(t, doomed.Close())
	require.Eventually(t, func() bool {
		st := c.master.Status()
		return len(st.Workers) == 1 && st.Workers[0].Status == coordinator.WorkerGone && st.Pending == 0
	}, 10*time.Second, 5*time.Millisecond)

	startWorker(t, c, "survivor", log)

	select {
	case <-c.master.Done():
	case <-time.After(30 * time.Second):
		t.Fatalf("cluster did not finish: %+v", c.master.Status())
	}
	require.NoError(t, <-c.errc)

	out := c.out.String()
	for id := 1; id <= 6; id++ {
		assert.Contains(t, out, fmt.Sprintf("Password of user%d: FFFF", id))
	}
	var gone int
	for _, w := range c.master.Status().Workers {
		if w.Status == coordinator.WorkerGone {
			gone++
			assert.Equal(t, "doomed", w.Member.ID)
		}
	}
	assert.Equal(t, 1, gone)
}
