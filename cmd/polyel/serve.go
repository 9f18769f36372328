package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type serveOptions struct {
	addr            string
	http3           bool
	certFile        string
	keyFile         string
	shutdownTimeout time.Duration
}

func serveCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the HTTP server.

Routes, middleware and sessions are validated before the port is opened;
a configuration error aborts startup.

Examples:
  polyel serve
  polyel serve --addr=:9000
  polyel serve --cert=cert.pem --key=key.pem --http3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(root, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.addr, "addr", "a", "", "监听地址，默认使用 server.addr")
	cmd.Flags().BoolVar(&opts.http3, "http3", false, "同时启用 HTTP/3，需要证书")
	cmd.Flags().StringVar(&opts.certFile, "cert", "", "TLS 证书文件")
	cmd.Flags().StringVar(&opts.keyFile, "key", "", "TLS 私钥文件")
	cmd.Flags().DurationVar(&opts.shutdownTimeout, "shutdown-timeout", 15*time.Second, "优雅关闭的最长等待时间")
	return cmd
}

func runServe(root *rootOptions, opts *serveOptions) error {
	log, err := newLogger(root.debug)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	a, provider, err := buildApp(root, log)
	if err != nil {
		return err
	}
	defer provider.Close()
	cancelWatch := provider.OnChange(func(string) {
		log.Warn("配置文件已修改，重启后生效")
	})
	defer cancelWatch()

	addr := opts.addr
	if addr == "" {
		addr = a.Config.Server.Addr
	}
	tls := opts.certFile != "" && opts.keyFile != ""
	if opts.http3 && !tls {
		return errors.New("--http3 需要同时指定 --cert 与 --key")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		switch {
		case opts.http3:
			errCh <- a.Server.StartHTTP3(addr, opts.certFile, opts.keyFile)
		case tls:
			errCh <- a.Server.StartTLS(addr, opts.certFile, opts.keyFile)
		default:
			errCh <- a.Server.Start(addr)
		}
	}()

	select {
	case err = <-errCh:
		_ = a.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("正在关闭服务器", zap.Int64("in_flight", a.Server.InFlight()))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.shutdownTimeout)
	defer cancel()
	return a.Shutdown(shutdownCtx)
}
