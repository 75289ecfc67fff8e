package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("PORT", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("默认配置应可加载: %v", err)
	}
	if cfg.Monitor.PriceInterval != time.Minute || cfg.Monitor.HistoryInterval != time.Minute {
		t.Fatalf("默认间隔应为 60s: %+v", cfg.Monitor)
	}
	if cfg.Monitor.BackfillWindow != 24*time.Hour || cfg.Monitor.HistoryResolution != "1m" {
		t.Fatalf("默认回填窗口错误: %+v", cfg.Monitor)
	}
	if cfg.Monitor.AdvisoryLockKey != 0x6d656d65 {
		t.Fatalf("默认 advisory lock key 错误: %d", cfg.Monitor.AdvisoryLockKey)
	}
	if cfg.Birdeye.RequestTimeout != 10*time.Second {
		t.Fatalf("默认超时应为 10s: %s", cfg.Birdeye.RequestTimeout)
	}
	if got := cfg.Symbols(); len(got) != 2 || got[0] != "BONK" || got[1] != "WIF" {
		t.Fatalf("默认 token 错误: %v", got)
	}
	if cfg.HTTP.ListenAddr() != ":3000" {
		t.Fatalf("默认端口应为 3000: %s", cfg.HTTP.ListenAddr())
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	chdir(t, t.TempDir())
	path := writeConfig(t, `
monitor:
  price_interval: 15s
tokens:
  wif: EKpQGSJtjMFqKZ9KQanSqYXRcF8fBopzLHYxdM65zcjm
`)
	t.Setenv("MEMEPULSE_MONITOR_HISTORY_INTERVAL", "2m")
	t.Setenv("BIRDEYE_API_KEY", "legacy-key")
	t.Setenv("PORT", "8080")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("配置应可加载: %v", err)
	}
	if cfg.Monitor.PriceInterval != 15*time.Second {
		t.Fatalf("文件中的间隔未生效: %s", cfg.Monitor.PriceInterval)
	}
	if cfg.Monitor.HistoryInterval != 2*time.Minute {
		t.Fatalf("环境变量未生效: %s", cfg.Monitor.HistoryInterval)
	}
	if cfg.Birdeye.APIKey != "legacy-key" {
		t.Fatalf("BIRDEYE_API_KEY 未生效: %q", cfg.Birdeye.APIKey)
	}
	if cfg.HTTP.ListenAddr() != ":8080" {
		t.Fatalf("PORT 未生效: %s", cfg.HTTP.ListenAddr())
	}
	if len(cfg.Tokens) != 1 || cfg.Tokens["WIF"] == "" {
		t.Fatalf("symbol 应转为大写: %v", cfg.Tokens)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("MEMEPULSE_BIRDEYE_API_KEY=from-dotenv\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Unsetenv("MEMEPULSE_BIRDEYE_API_KEY") })

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("配置应可加载: %v", err)
	}
	if cfg.Birdeye.APIKey != "from-dotenv" {
		t.Fatalf(".env 未生效: %q", cfg.Birdeye.APIKey)
	}
}

func TestValidateRejectsBadAddress(t *testing.T) {
	chdir(t, t.TempDir())
	path := writeConfig(t, `
tokens:
  fake: "0OIl-not-base58"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("非法地址应报错")
	}

	path = writeConfig(t, `
tokens:
  short: "3yZe7d"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("长度不为 32 字节的地址应报错")
	}
}

func TestValidateTelegram(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("MEMEPULSE_ALERTING_TELEGRAM_ENABLED", "true")
	if _, err := Load(""); err == nil {
		t.Fatal("启用 Telegram 但缺少 token 时应报错")
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 100}}
	if cfg.ResolveMaxPoints(0) != 100 || cfg.ResolveMaxPoints(5) != 5 {
		t.Fatal("ResolveMaxPoints 结果错误")
	}
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Errorf("restore cwd: %v", err)
		}
	})
}
