package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if cfg.ListenAddr != ":8084" {
		t.Fatalf("listen addr = %q", cfg.ListenAddr)
	}
	if cfg.SlotReuse != "reject" {
		t.Fatalf("slot reuse = %q", cfg.SlotReuse)
	}
	if cfg.Token.ID != "tok_dev" || cfg.Token.Decimals != 18 {
		t.Fatalf("token defaults = %+v", cfg.Token)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pact.yaml")
	raw := `
listen_addr: ":9000"
slot_reuse: subslot
token:
  id: tok_test
  decimals: 6
dev_accounts:
  - account: acc_client
    balance: "3000000000000000000000"
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if cfg.ListenAddr != ":9000" || cfg.SlotReuse != "subslot" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Token.ID != "tok_test" || cfg.Token.Decimals != 6 {
		t.Fatalf("token = %+v", cfg.Token)
	}
	if len(cfg.DevAccounts) != 1 || cfg.DevAccounts[0].Account != "acc_client" {
		t.Fatalf("dev accounts = %+v", cfg.DevAccounts)
	}
}

func TestValidateRejectsBadPolicy(t *testing.T) {
	cfg := defaults()
	cfg.SlotReuse = "maybe"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidateRejectsBadDevBalance(t *testing.T) {
	cfg := defaults()
	cfg.DevAccounts = []DevAccount{{Account: "acc_x", Balance: "not-a-number"}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}
