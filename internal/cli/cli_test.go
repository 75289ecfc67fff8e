package cli

import (
	"testing"
	"time"
)

func TestParseTimeFlag(t *testing.T) {
	got, err := parseTimeFlag("from", "2024-05-01T12:00:00Z")
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if !got.Equal(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("时间不正确: %s", got)
	}
	if _, err := parseTimeFlag("from", "yesterday"); err == nil {
		t.Fatal("非法时间应报错")
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"run", "show", "export", "backfill", "alerts", "evaluate", "migrate", "version"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("缺少子命令 %s: %v", name, err)
		}
	}
	for _, name := range []string{"create", "list"} {
		cmd, _, err := rootCmd.Find([]string{"alerts", name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("缺少 alerts 子命令 %s: %v", name, err)
		}
	}
}
