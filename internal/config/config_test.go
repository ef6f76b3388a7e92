package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "defiseek.json")
	content := `{
  "server": {"address": ":9000"},
  "knowledge": {"path": "knowledge.json"}
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}

	if cfg.Server.Address != ":9000" {
		t.Fatalf("监听地址不符: %q", cfg.Server.Address)
	}
	if cfg.Storage.Driver != "memory" || cfg.Queue.Driver != "memory" {
		t.Fatalf("默认驱动不符: storage=%q queue=%q", cfg.Storage.Driver, cfg.Queue.Driver)
	}
	if cfg.Auth.Mode != "disabled" {
		t.Fatalf("默认认证模式不符: %q", cfg.Auth.Mode)
	}
	if cfg.Unleash.APIKeyEnv != "UNLEASH_API_KEY" {
		t.Fatalf("默认环境变量名不符: %q", cfg.Unleash.APIKeyEnv)
	}
	if !filepath.IsAbs(cfg.Knowledge.Path) {
		t.Fatalf("相对路径应转换为绝对路径: %q", cfg.Knowledge.Path)
	}
	if cfg.Storage.DataDir != filepath.Join(dir, "data") {
		t.Fatalf("默认数据目录不符: %q", cfg.Storage.DataDir)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("空路径应报错")
	}
	if _, err := Load("/nonexistent/defiseek.json"); err == nil {
		t.Fatal("文件不存在应报错")
	}
}
