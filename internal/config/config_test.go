package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr == "" || cfg.Dispatch.TimeoutMS != 30000 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.DispatchTimeout() != 30*time.Second {
		t.Fatalf("timeout = %v", cfg.DispatchTimeout())
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowscript.yaml")
	doc := `
server:
  addr: "0.0.0.0:9000"
sandbox:
  root: /srv/flows
  allow:
    - "reports/**"
    - "*.txt"
dispatch:
  timeout_ms: 5000
llm:
  provider: acme
  model: acme-1
  base_url: https://llm.example.test
  api_key_env: ACME_API_KEY
notify:
  webhook_url: https://hooks.example.test/x
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != "0.0.0.0:9000" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Sandbox.Root != "/srv/flows" || len(cfg.Sandbox.Allow) != 2 {
		t.Fatalf("sandbox = %+v", cfg.Sandbox)
	}
	if cfg.Dispatch.TimeoutMS != 5000 || cfg.LLM.Provider != "acme" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.LLM.BaseURL != "https://llm.example.test" || cfg.LLM.APIKeyEnv != "ACME_API_KEY" {
		t.Fatalf("llm = %+v", cfg.LLM)
	}
	if cfg.Notify.WebhookURL != "https://hooks.example.test/x" {
		t.Fatalf("notify = %+v", cfg.Notify)
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowscript.yaml")
	if err := os.WriteFile(path, []byte("llm:\n  provider: acme\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != Default().Server.Addr || cfg.Dispatch.TimeoutMS != 30000 {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error")
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte(":\tnot yaml"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}
