package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rmerrors "github.com/twitter/nodepool/common/errors"
	"github.com/twitter/nodepool/common/stats"
	"github.com/twitter/nodepool/config/rmconfig"
	"github.com/twitter/nodepool/rm/db"
	"github.com/twitter/nodepool/rm/infrastructure/local"
	"github.com/twitter/nodepool/rm/node"
)

const testConfig = `
log_level: debug
database:
  driver: sqlite
  path: %s
liveness:
  interval: 1h
admin:
  addr: 127.0.0.1:0
node_sources:
  - name: ns1
    infrastructure_type: local
    infrastructure_params: ["2"]
    policy_type: static
    nodes_recoverable: true
`

func writeConfig(t *testing.T) (string, rmconfig.Config) {
	dir, err := ioutil.TempDir("", "rm-cli")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	path := filepath.Join(dir, "rm.yaml")
	data := []byte(fmt.Sprintf(testConfig, filepath.Join(dir, "rm.db")))
	require.NoError(t, ioutil.WriteFile(path, data, 0644))
	cfg, err := rmconfig.Load(path)
	require.NoError(t, err)
	return path, cfg
}

func getNodes(t *testing.T, s *server) []node.Node {
	rec := httptest.NewRecorder()
	s.admin.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/nodes", nil))
	if rec.Code != http.StatusOK {
		return nil
	}
	var nodes []node.Node
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &nodes))
	return nodes
}

func waitFree(t *testing.T, s *server, count int) {
	require.Eventually(t, func() bool {
		nodes := getNodes(t, s)
		free := 0
		for _, n := range nodes {
			if n.State == node.Free {
				free++
			}
		}
		return free == count
	}, 5*time.Second, 10*time.Millisecond)
}

func TestServeRestartKeepsNodes(t *testing.T) {
	_, cfg := writeConfig(t)
	host := local.NewHost("h1")

	s, err := startServer(context.Background(), cfg, host, stats.DefaultStatsReceiver())
	require.NoError(t, err)
	waitFree(t, s, 2)
	before := getNodes(t, s)
	s.close(context.Background())

	// Nodes outlive the manager, so a restart finds them alive and does not
	// create the configured source a second time.
	s, err = startServer(context.Background(), cfg, host, stats.DefaultStatsReceiver())
	require.NoError(t, err)
	defer s.close(context.Background())
	waitFree(t, s, 2)
	after := getNodes(t, s)
	require.Len(t, after, 2)
	assert.ElementsMatch(t, urlsOf(before), urlsOf(after))

	rec := httptest.NewRecorder()
	s.admin.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServeDeadNodesAreDownAfterRestart(t *testing.T) {
	_, cfg := writeConfig(t)

	s, err := startServer(context.Background(), cfg, local.NewHost("h1"), stats.DefaultStatsReceiver())
	require.NoError(t, err)
	waitFree(t, s, 2)
	s.close(context.Background())

	// A fresh host knows none of the old nodes.
	s, err = startServer(context.Background(), cfg, local.NewHost("h1"), stats.DefaultStatsReceiver())
	require.NoError(t, err)
	defer s.close(context.Background())
	for _, n := range getNodes(t, s) {
		assert.Equal(t, node.Down, n.State, n.URL)
	}
}

func TestLivenessRoundsMarkNodesDownAndBack(t *testing.T) {
	_, cfg := writeConfig(t)
	host := local.NewHost("h1")
	s, err := startServer(context.Background(), cfg, host, stats.DefaultStatsReceiver())
	require.NoError(t, err)
	defer s.close(context.Background())
	waitFree(t, s, 2)
	url := getNodes(t, s)[0].URL

	host.Kill(url)
	s.pinger.Round(context.Background())
	n, err := s.m.GetNode(url)
	require.NoError(t, err)
	assert.Equal(t, node.Down, n.State)

	host.Revive(url)
	s.pinger.Round(context.Background())
	n, err = s.m.GetNode(url)
	require.NoError(t, err)
	assert.Equal(t, node.Free, n.State)
}

func TestStoreCommands(t *testing.T) {
	path, cfg := writeConfig(t)
	s, err := startServer(context.Background(), cfg, local.NewHost("h1"), stats.DefaultStatsReceiver())
	require.NoError(t, err)
	waitFree(t, s, 2)
	s.close(context.Background())

	run := func(args ...string) []byte {
		var out bytes.Buffer
		cl := New()
		cl.out = &out
		cl.rootCmd.SetArgs(append([]string{"--config", path}, args...))
		require.NoError(t, cl.Exec())
		return out.Bytes()
	}

	var sources []db.NodeSourceData
	require.NoError(t, json.Unmarshal(run("sources"), &sources))
	require.Len(t, sources, 1)
	assert.Equal(t, "ns1", sources[0].Name)
	assert.Equal(t, "NODES_DEPLOYED", sources[0].Status)

	var nodes []db.NodeData
	require.NoError(t, json.Unmarshal(run("nodes", "--source", "ns1"), &nodes))
	require.Len(t, nodes, 2)
	assert.Equal(t, "FREE", nodes[0].State)

	var history []node.History
	require.NoError(t, json.Unmarshal(run("history", nodes[0].URL), &history))
	require.Len(t, history, 2)
	assert.Equal(t, node.Deploying, history[0].State)
	assert.Equal(t, node.Free, history[1].State)
}

func TestBadConfigExitCode(t *testing.T) {
	cl := New()
	cl.out = ioutil.Discard
	cl.rootCmd.SetArgs([]string{"--config", "/does/not/exist.yaml", "sources"})
	err := cl.Exec()
	assert.Equal(t, rmerrors.ConfigFailureExitCode, rmerrors.ExitCodeOf(err))
}

func urlsOf(nodes []node.Node) []string {
	var out []string
	for _, n := range nodes {
		out = append(out, n.URL)
	}
	return out
}
