// Package config 读取 yaml / toml / json 配置文件，环境变量覆盖文件中的值，
// 文件修改后自动重新加载
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// 文件格式
const (
	FormatYAML = "yaml"
	FormatJSON = "json"
	FormatTOML = "toml"
)

// envLevelSep 分隔环境变量中的层级，POLYEL_SERVER__READ_TIMEOUT 对应 server.read_timeout
const envLevelSep = "__"

// Provider 是读取配置的接口，键使用点号分隔层级，例如 "session.cookie_name"
type Provider interface {
	Get(key string) (any, bool)
	GetString(key string) string
	GetInt(key string) int
	GetBool(key string) bool
	GetDuration(key string) time.Duration
	GetStringSlice(key string) []string
	Has(key string) bool
	Set(key string, value any)
	AllKeys() []string
	// Unmarshal 把 key 下的子树解码到 v，字段使用 `config` 标签
	Unmarshal(key string, v any) error
	// OnChange 注册变更回调，返回取消注册的函数
	OnChange(fn func(key string)) (cancel func())
}

var _ Provider = &Configuration{}

type Configuration struct {
	mu   sync.RWMutex
	data map[string]any

	envPrefix  string
	configFile string
	fileFormat string
	log        *zap.Logger

	watcher   *fsnotify.Watcher
	listeners map[int]func(string)
	nextID    int
}

type Option func(*Configuration)

// WithEnvPrefix 只读取带前缀的环境变量，例如 "POLYEL_"
func WithEnvPrefix(prefix string) Option {
	return func(c *Configuration) {
		c.envPrefix = prefix
	}
}

// WithConfigFile 指定配置文件，格式由扩展名决定
func WithConfigFile(file string) Option {
	return func(c *Configuration) {
		c.configFile = file
		c.fileFormat = formatOf(file)
	}
}

// WithFormat 覆盖由扩展名推断的格式
func WithFormat(format string) Option {
	return func(c *Configuration) {
		c.fileFormat = format
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Configuration) {
		c.log = log
	}
}

func formatOf(file string) string {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".json":
		return FormatJSON
	case ".toml":
		return FormatTOML
	}
	return ""
}

// New 加载配置。配置文件不存在不算错误，此时只有环境变量生效。
// 指定了配置文件时会监听所在目录，文件写入后重新加载并通知回调。
func New(opts ...Option) (*Configuration, error) {
	c := &Configuration{
		data:      make(map[string]any),
		log:       zap.NewNop(),
		listeners: make(map[int]func(string)),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.Load(); err != nil {
		return nil, err
	}
	if c.configFile == "" {
		return c, nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: 创建文件监听失败: %w", err)
	}
	if err = watcher.Add(filepath.Dir(c.configFile)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("config: 监听配置目录失败: %w", err)
	}
	c.watcher = watcher
	go c.watch()
	return c, nil
}

// Load 重新读取文件与环境变量，环境变量优先
func (c *Configuration) Load() error {
	data := make(map[string]any)
	if c.configFile != "" {
		fileData, err := c.readFile()
		if err != nil {
			return err
		}
		mergeInto(data, fileData)
	}
	c.applyEnv(data)

	c.mu.Lock()
	c.data = data
	c.mu.Unlock()
	return nil
}

func (c *Configuration) readFile() (map[string]any, error) {
	raw, err := os.ReadFile(c.configFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: 读取配置文件失败: %w", err)
	}
	var res map[string]any
	switch c.fileFormat {
	case FormatYAML:
		err = yaml.Unmarshal(raw, &res)
	case FormatJSON:
		err = json.Unmarshal(raw, &res)
	case FormatTOML:
		err = toml.Unmarshal(raw, &res)
	default:
		return nil, fmt.Errorf("config: 不支持的配置文件格式 %q", c.fileFormat)
	}
	if err != nil {
		return nil, fmt.Errorf("config: 解析 %s 失败: %w", c.configFile, err)
	}
	return res, nil
}

func (c *Configuration) applyEnv(data map[string]any) {
	if c.envPrefix == "" {
		return
	}
	for _, env := range os.Environ() {
		name, val, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(name, c.envPrefix) {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(name, c.envPrefix))
		if key == "" {
			continue
		}
		setPath(data, strings.Split(key, envLevelSep), val)
	}
}

// mergeInto 深度合并，src 中的子表与 dst 中的子表逐键合并
func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		sub, ok := v.(map[string]any)
		if !ok {
			dst[k] = v
			continue
		}
		exist, ok := dst[k].(map[string]any)
		if !ok {
			exist = make(map[string]any, len(sub))
			dst[k] = exist
		}
		mergeInto(exist, sub)
	}
}

func setPath(data map[string]any, path []string, val any) {
	cur := data
	for _, seg := range path[:len(path)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[seg] = next
		}
		cur = next
	}
	cur[path[len(path)-1]] = val
}

func (c *Configuration) watch() {
	target := filepath.Clean(c.configFile)
	for {
		select {
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target ||
				event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := c.Load(); err != nil {
				c.log.Error("重新加载配置失败", zap.String("file", c.configFile), zap.Error(err))
				continue
			}
			c.log.Info("配置已重新加载", zap.String("file", c.configFile))
			c.notify("")
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.log.Error("配置文件监听出错", zap.Error(err))
		}
	}
}

func (c *Configuration) notify(key string) {
	c.mu.RLock()
	fns := make([]func(string), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.RUnlock()
	for _, fn := range fns {
		fn(key)
	}
}

func (c *Configuration) OnChange(fn func(key string)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Configuration) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if key == "" {
		return c.data, true
	}
	var cur any = c.data
	for _, seg := range strings.Split(key, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[seg]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func (c *Configuration) GetString(key string) string {
	val, ok := c.Get(key)
	if !ok || val == nil {
		return ""
	}
	if s, ok := val.(string); ok {
		return s
	}
	return fmt.Sprint(val)
}

func (c *Configuration) GetInt(key string) int {
	var res int
	_ = c.decodeValue(key, &res)
	return res
}

func (c *Configuration) GetBool(key string) bool {
	var res bool
	_ = c.decodeValue(key, &res)
	return res
}

// GetDuration 接受 "1m30s" 形式的字符串，纯数字按秒计
func (c *Configuration) GetDuration(key string) time.Duration {
	val, ok := c.Get(key)
	if !ok {
		return 0
	}
	switch v := val.(type) {
	case int:
		return time.Duration(v) * time.Second
	case int64:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	}
	var res time.Duration
	_ = c.decodeValue(key, &res)
	return res
}

// GetStringSlice 字符串值按逗号切分
func (c *Configuration) GetStringSlice(key string) []string {
	val, ok := c.Get(key)
	if !ok {
		return nil
	}
	switch v := val.(type) {
	case []string:
		return v
	case []any:
		res := make([]string, 0, len(v))
		for _, item := range v {
			res = append(res, fmt.Sprint(item))
		}
		return res
	case string:
		return splitList(v)
	}
	return nil
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

func (c *Configuration) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Set 写入内存中的配置，不会写回文件，下次重新加载时被覆盖
func (c *Configuration) Set(key string, value any) {
	c.mu.Lock()
	setPath(c.data, strings.Split(key, "."), value)
	c.mu.Unlock()
	c.notify(key)
}

// AllKeys 返回所有叶子节点的完整键，已排序
func (c *Configuration) AllKeys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var keys []string
	collectKeys("", c.data, &keys)
	sort.Strings(keys)
	return keys
}

func collectKeys(prefix string, m map[string]any, keys *[]string) {
	for k, v := range m {
		full := k
		if prefix != "" {
			full = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok {
			collectKeys(full, sub, keys)
			continue
		}
		*keys = append(*keys, full)
	}
}

func (c *Configuration) Unmarshal(key string, v any) error {
	if err := c.decodeValue(key, v); err != nil {
		return fmt.Errorf("config: 解码 %q 失败: %w", key, err)
	}
	return nil
}

func (c *Configuration) decodeValue(key string, v any) error {
	val, ok := c.Get(key)
	if !ok {
		return fmt.Errorf("config: 配置项 %q 不存在", key)
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  v,
		TagName: "config",
		// 环境变量都是字符串
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			stringToSliceHook,
		),
	})
	if err != nil {
		return err
	}
	return dec.Decode(val)
}

// stringToSliceHook 把 "a, b" 解码为 []string{"a", "b"}
func stringToSliceHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to.Kind() != reflect.Slice {
		return data, nil
	}
	return splitList(data.(string)), nil
}

func (c *Configuration) Close() error {
	if c.watcher == nil {
		return nil
	}
	return c.watcher.Close()
}
