package polyel

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"go.uber.org/zap"
)

// HTTP3Server 在 QUIC 上提供 HTTP/3 服务
type HTTP3Server struct {
	handler      http.Handler
	quicServer   *http3.Server
	quicListener *quic.EarlyListener
	log          *zap.Logger
	config       *HTTP3Config
}

// HTTP3Config HTTP/3 服务器配置
type HTTP3Config struct {
	MaxIdleTimeout        time.Duration
	MaxIncomingStreams    int64
	MaxIncomingUniStreams int64
	EnableDatagrams       bool
	HandshakeIdleTimeout  time.Duration

	// AltSvcHeader 通过 TCP 回退服务告知客户端 HTTP/3 可用
	AltSvcHeader       string
	EnableAltSvcHeader bool
}

// DefaultHTTP3Config 返回默认的 HTTP/3 配置
func DefaultHTTP3Config() *HTTP3Config {
	return &HTTP3Config{
		MaxIdleTimeout:        30 * time.Second,
		MaxIncomingStreams:    100,
		MaxIncomingUniStreams: 100,
		HandshakeIdleTimeout:  10 * time.Second,
		EnableAltSvcHeader:    true,
		AltSvcHeader:          `h3=":443"; ma=2592000`,
	}
}

// NewHTTP3Server 创建 HTTP/3 服务器
func NewHTTP3Server(handler http.Handler, config *HTTP3Config, log *zap.Logger) *HTTP3Server {
	if config == nil {
		config = DefaultHTTP3Config()
	}
	if log == nil {
		log = DefaultLogger()
	}
	return &HTTP3Server{
		handler: handler,
		log:     log,
		config:  config,
	}
}

// altSvcHandler 为 TCP 回退服务的响应加上 Alt-Svc 头
func (s *HTTP3Server) altSvcHandler(next http.Handler) http.Handler {
	if !s.config.EnableAltSvcHeader {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Alt-Svc", s.config.AltSvcHeader)
		next.ServeHTTP(w, r)
	})
}

// ListenAndServe 使用 tlsConfig 在 addr 上启动 HTTP/3 服务
func (s *HTTP3Server) ListenAndServe(addr string, tlsConfig *tls.Config) error {
	if tlsConfig == nil {
		return fmt.Errorf("polyel: HTTP/3 需要 TLS 配置")
	}
	tlsConfig.NextProtos = append(tlsConfig.NextProtos, "h3")

	quicConfig := &quic.Config{
		MaxIdleTimeout:        s.config.MaxIdleTimeout,
		MaxIncomingStreams:    s.config.MaxIncomingStreams,
		MaxIncomingUniStreams: s.config.MaxIncomingUniStreams,
		EnableDatagrams:       s.config.EnableDatagrams,
		HandshakeIdleTimeout:  s.config.HandshakeIdleTimeout,
	}
	s.quicServer = &http3.Server{
		Handler:    s.handler,
		TLSConfig:  tlsConfig,
		QuicConfig: quicConfig,
	}

	listener, err := quic.ListenAddrEarly(addr, tlsConfig, quicConfig)
	if err != nil {
		return fmt.Errorf("polyel: 启动 QUIC 监听失败: %w", err)
	}
	s.quicListener = listener
	s.log.Info("polyel: HTTP/3 服务启动", zap.String("addr", addr))
	return s.quicServer.ServeListener(listener)
}

// ListenAndServeTLS 加载证书后启动 HTTP/3 服务
func (s *HTTP3Server) ListenAndServeTLS(addr, certFile, keyFile string) error {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return fmt.Errorf("polyel: 加载 TLS 证书失败: %w", err)
	}
	return s.ListenAndServe(addr, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
	})
}

// Shutdown 关闭 QUIC 监听与 HTTP/3 服务
func (s *HTTP3Server) Shutdown(_ context.Context) error {
	var err error
	if s.quicListener != nil {
		if err = s.quicListener.Close(); err != nil {
			s.log.Warn("polyel: 关闭 QUIC 监听失败", zap.Error(err))
		}
	}
	if s.quicServer != nil {
		err = s.quicServer.Close()
	}
	return err
}
