package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesEnvAndDefaults(t *testing.T) {
	dir := t.TempDir()
	base := `
imap:
  host: imap.example.com
  password: ${IMAP_PASSWORD}
llm:
  api_key: ${XAI_API_KEY}
`
	if err := os.WriteFile(filepath.Join(dir, "base.yaml"), []byte(base), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "secrets.env"), []byte("IMAP_PASSWORD=pw\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CONFIG_DIR", dir)
	t.Setenv("CONFIG_ENV", "test")
	t.Setenv("XAI_API_KEY", "key-from-env")
	t.Setenv("IMAP_PORT", "1993")
	t.Setenv("MQ_URL", "amqp://mq:5672/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.IMAP.Host != "imap.example.com" || cfg.IMAP.Password != "pw" || cfg.IMAP.Port != 1993 {
		t.Errorf("imap = %+v", cfg.IMAP)
	}
	if cfg.LLM.APIKey != "key-from-env" {
		t.Errorf("llm api key = %q", cfg.LLM.APIKey)
	}
	if cfg.MQ.URL != "amqp://mq:5672/" || cfg.MQ.Exchange != "emails-flow" || cfg.MQ.DLXExchange != "emails-flow.dlx" {
		t.Errorf("mq = %+v", cfg.MQ)
	}
	if cfg.Lister.Folder != "TLDR" || cfg.Scanner.Count != 1 || cfg.LLM.MaxTokens != 5000 {
		t.Errorf("defaults not applied: lister=%+v scanner=%+v llm=%+v", cfg.Lister, cfg.Scanner, cfg.LLM)
	}
}
