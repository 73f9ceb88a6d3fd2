package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gotest.tools/assert"

	"github.com/shepherd-os/shepherd/pkg/strategy"
)

func writeSnippet(t *testing.T, dir, name, content string) {
	t.Helper()
	assert.NilError(t, os.MkdirAll(dir, 0o755))
	assert.NilError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	writeSnippet(t, dir, "00-base.yaml", `
graph:
  base_url: https://updates.example.com/
`)

	cfg, err := Load([]string{dir})
	assert.NilError(t, err)
	assert.Equal(t, cfg.GraphBaseURL, "https://updates.example.com/")
	assert.Equal(t, cfg.Stream, DefaultStream)
	assert.Equal(t, cfg.PollInterval, DefaultPollInterval)
	assert.Equal(t, cfg.StatePath, DefaultStatePath)
	assert.Equal(t, cfg.Strategy.Name, strategy.NameImmediate)
	assert.Check(t, !cfg.AllowBarriers)
}

func TestLoadMergesInOrder(t *testing.T) {
	vendor := filepath.Join(t.TempDir(), "vendor")
	admin := filepath.Join(t.TempDir(), "admin")
	writeSnippet(t, vendor, "00-base.yaml", `
graph:
  base_url: https://vendor.example.com/
identity:
  stream: stable
updates:
  strategy: immediate
`)
	writeSnippet(t, admin, "50-site.yaml", `
identity:
  stream: testing
  group: workers
updates:
  strategy: cluster
  cluster:
    base_url: http://lock.example.com/
`)

	cfg, err := Load([]string{vendor, admin})
	assert.NilError(t, err)
	assert.Equal(t, cfg.GraphBaseURL, "https://vendor.example.com/")
	assert.Equal(t, cfg.Stream, "testing")
	assert.Equal(t, cfg.Group, "workers")
	assert.Equal(t, cfg.Strategy.Name, strategy.NameCluster)
	assert.Equal(t, cfg.Strategy.LockBaseURL, "http://lock.example.com/")
}

func TestLoadPeriodicWindow(t *testing.T) {
	dir := t.TempDir()
	writeSnippet(t, dir, "00-base.yaml", `
graph:
  base_url: https://updates.example.com/
updates:
  strategy: periodic
  periodic:
    weekday: saturday
    start: "23:30"
    length_minutes: 90
agent:
  poll_interval: 90s
  state_path: /tmp/state.json
  listen_address: 127.0.0.1:9999
`)

	cfg, err := Load([]string{dir})
	assert.NilError(t, err)
	assert.Equal(t, cfg.Strategy.Name, strategy.NamePeriodic)
	assert.Equal(t, cfg.Strategy.Periodic.Weekday, time.Saturday)
	assert.Equal(t, cfg.Strategy.Periodic.Start, 23*time.Hour+30*time.Minute)
	assert.Equal(t, cfg.Strategy.Periodic.Length, 90*time.Minute)
	assert.Equal(t, cfg.PollInterval, 90*time.Second)
	assert.Equal(t, cfg.StatePath, "/tmp/state.json")
	assert.Equal(t, cfg.ListenAddress, "127.0.0.1:9999")
}

func TestLoadRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"bad-yaml":    "graph: [",
		"bad-weekday": "graph: {base_url: https://u.example.com/}\nupdates: {periodic: {weekday: someday}}",
		"bad-start":   "graph: {base_url: https://u.example.com/}\nupdates: {periodic: {start: \"25:00\"}}",
		"bad-poll":    "graph: {base_url: https://u.example.com/}\nagent: {poll_interval: shortly}",
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			writeSnippet(t, dir, "00-bad.yaml", content)
			_, err := Load([]string{dir})
			assert.Check(t, err != nil)
		})
	}
}

func TestLoadValidation(t *testing.T) {
	// No graph URL anywhere.
	_, err := Load([]string{t.TempDir()})
	assert.Check(t, err != nil)

	// Cluster strategy without a lock service.
	dir := t.TempDir()
	writeSnippet(t, dir, "00-base.yaml", `
graph:
  base_url: https://updates.example.com/
updates:
  strategy: cluster
`)
	_, err = Load([]string{dir})
	assert.Check(t, err != nil)
}

func TestLoadSkipsMissingDirsAndForeignFiles(t *testing.T) {
	dir := t.TempDir()
	writeSnippet(t, dir, "00-base.yaml", `
graph:
  base_url: https://updates.example.com/
`)
	writeSnippet(t, dir, "README.md", "not a snippet")

	cfg, err := Load([]string{"/does/not/exist", dir})
	assert.NilError(t, err)
	assert.Equal(t, cfg.GraphBaseURL, "https://updates.example.com/")
}
