package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	globalConfig Provider
	globalMu     sync.RWMutex
)

// Init 初始化全局配置，重复调用会替换之前的实例
func Init(opts ...Option) error {
	c, err := New(opts...)
	if err != nil {
		return err
	}
	globalMu.Lock()
	old := globalConfig
	globalConfig = c
	globalMu.Unlock()
	if closer, ok := old.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	return nil
}

// Get 返回全局配置，未初始化时返回只读环境变量的空配置
func Get() Provider {
	globalMu.RLock()
	c := globalConfig
	globalMu.RUnlock()
	if c != nil {
		return c
	}
	empty, _ := New()
	return empty
}

// candidateFiles 是 AutoInit 依次查找的位置
var candidateFiles = []string{
	"polyel.yaml", "polyel.yml", "polyel.toml", "polyel.json",
	filepath.Join("config", "polyel.yaml"),
	filepath.Join("config", "polyel.yml"),
	filepath.Join("config", "polyel.toml"),
	filepath.Join("config", "polyel.json"),
}

// AutoInit 在 dir 下查找配置文件，环境变量前缀为大写的 appName 加下划线
func AutoInit(dir, appName string) error {
	opts := []Option{WithEnvPrefix(strings.ToUpper(appName) + "_")}
	if file := FindFile(dir); file != "" {
		opts = append(opts, WithConfigFile(file))
	}
	return Init(opts...)
}

// FindFile 返回 dir 下第一个存在的候选配置文件，找不到返回空字符串
func FindFile(dir string) string {
	for _, name := range candidateFiles {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}
