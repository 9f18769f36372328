// polyel 启动应用服务器、列出路由
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dormoron/polyel"
	"github.com/dormoron/polyel/config"
	"github.com/dormoron/polyel/internal/app"
)

// 构建时通过 -ldflags 注入
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// 全局参数
type rootOptions struct {
	configFile string
	envPrefix  string
	debug      bool
}

func main() {
	app.Version = version
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "polyel",
		Short:         "Polyel application server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "",
		"配置文件，缺省时在当前目录与 config/ 下查找 polyel.{yaml,yml,toml,json}")
	rootCmd.PersistentFlags().StringVar(&opts.envPrefix, "env-prefix", "POLYEL_", "覆盖配置的环境变量前缀")
	rootCmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "输出 debug 日志")

	rootCmd.AddCommand(
		serveCmd(opts),
		routesCmd(opts),
		versionCmd(),
	)
	return rootCmd
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// loadConfig 读取配置，返回的 Configuration 需要调用方关闭
func loadConfig(opts *rootOptions, log *zap.Logger) (*config.Configuration, config.App, error) {
	file := opts.configFile
	if file == "" {
		file = config.FindFile(".")
	}
	cfgOpts := []config.Option{config.WithEnvPrefix(opts.envPrefix), config.WithLogger(log)}
	if file != "" {
		cfgOpts = append(cfgOpts, config.WithConfigFile(file))
	}
	provider, err := config.New(cfgOpts...)
	if err != nil {
		return nil, config.App{}, err
	}
	appCfg, err := config.LoadApp(provider)
	if err != nil {
		_ = provider.Close()
		return nil, config.App{}, err
	}
	if file != "" {
		log.Info("已加载配置文件", zap.String("file", file))
	}
	return provider, appCfg, nil
}

func buildApp(opts *rootOptions, log *zap.Logger) (*app.App, *config.Configuration, error) {
	polyel.SetDefaultLogger(log)
	provider, cfg, err := loadConfig(opts, log)
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(cfg, app.WithLogger(log))
	if err != nil {
		_ = provider.Close()
		return nil, nil, err
	}
	return a, provider, nil
}
