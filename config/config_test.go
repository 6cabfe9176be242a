package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conf.json")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadScalerDefaults(t *testing.T) {
	path := writeConfig(t, `{"api": "http://localhost:8000", "k8s": [{"name": "prod"}]}`)
	conf, err := LoadScaler(path)
	if err != nil {
		t.Fatal(err)
	}
	if conf.Dwell != 5 || conf.DeadlineWindow != 1000 || conf.SetupAttempts != 4 {
		t.Fatalf("defaults not applied: %+v", conf)
	}
	if len(conf.K8s) != 1 || conf.K8s[0].Name != "prod" {
		t.Fatalf("clusters not parsed: %+v", conf.K8s)
	}
}

func TestLoadScalerRequiresAPI(t *testing.T) {
	path := writeConfig(t, `{"k8s": []}`)
	if _, err := LoadScaler(path); err == nil {
		t.Fatal("a config without an api url should fail")
	}
}

func TestLoadAgent(t *testing.T) {
	path := writeConfig(t, `{"api": "http://localhost:8000", "cluster": "metal", "poll_ms": 250}`)
	conf, err := LoadAgent(path)
	if err != nil {
		t.Fatal(err)
	}
	if conf.PollMs != 250 {
		t.Fatalf("poll_ms not parsed: %+v", conf)
	}
	if conf.Node == "" {
		t.Fatal("node should default to the hostname")
	}
}

func TestLoadAgentRequiresCluster(t *testing.T) {
	path := writeConfig(t, `{"api": "http://localhost:8000"}`)
	if _, err := LoadAgent(path); err == nil {
		t.Fatal("a config without a cluster should fail")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := LoadScaler(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("missing config files should fail loudly")
	}
}
