package bridge

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/net/proxy"
)

// NewDialer 创建支持代理的 WebSocket 拨号器
// 支持 SOCKS5 和 HTTP/HTTPS 代理
func NewDialer(proxyURL string, handshakeTimeout time.Duration) (*websocket.Dialer, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
	}
	if proxyURL == "" {
		return dialer, nil
	}

	parsedProxy, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}

	switch parsedProxy.Scheme {
	case "socks5":
		return withSOCKS5(dialer, parsedProxy)
	case "http", "https":
		dialer.Proxy = http.ProxyURL(parsedProxy)
		return dialer, nil
	default:
		return nil, fmt.Errorf("unsupported proxy scheme: %s", parsedProxy.Scheme)
	}
}

// withSOCKS5 通过 SOCKS5 代理建立底层 TCP 连接
func withSOCKS5(dialer *websocket.Dialer, proxyURL *url.URL) (*websocket.Dialer, error) {
	var auth *proxy.Auth
	if proxyURL.User != nil {
		password, _ := proxyURL.User.Password()
		auth = &proxy.Auth{
			User:     proxyURL.User.Username(),
			Password: password,
		}
	}

	socks, err := proxy.SOCKS5("tcp", proxyURL.Host, auth, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}

	if cd, ok := socks.(proxy.ContextDialer); ok {
		dialer.NetDialContext = cd.DialContext
	} else {
		dialer.NetDial = socks.Dial
	}
	return dialer, nil
}
