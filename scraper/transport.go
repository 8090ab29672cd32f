package scraper

import (
	"context"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"time"

	utls "github.com/refraction-networking/utls"

	"github.com/aluiziolira/go-scrape-listings/config"
)

// newTransport builds the fetch transport. rootCAs verifies servers when the
// Chrome fingerprint is on; nil means the system pool.
func newTransport(cfg *config.Config, rootCAs *x509.CertPool) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   cfg.Timeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	if cfg.ChromeTLS {
		transport.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialChromeTLS(ctx, dialer, network, addr, rootCAs)
		}
		// The handshake below only offers http/1.1.
		transport.ForceAttemptHTTP2 = false
	}
	return transport
}

// dialChromeTLS opens a TLS connection whose ClientHello mimics Chrome, with
// ALPN restricted to http/1.1 so net/http can speak over it.
func dialChromeTLS(ctx context.Context, dialer *net.Dialer, network, addr string, rootCAs *x509.CertPool) (net.Conn, error) {
	spec, err := utls.UTLSIdToSpec(utls.HelloChrome_Auto)
	if err != nil {
		return nil, fmt.Errorf("chrome tls spec: %w", err)
	}
	for i, ext := range spec.Extensions {
		if alpn, ok := ext.(*utls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
			spec.Extensions[i] = alpn
			break
		}
	}

	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	host, _, _ := net.SplitHostPort(addr)
	tlsConn := utls.UClient(conn, &utls.Config{ServerName: host, RootCAs: rootCAs}, utls.HelloCustom)
	if err := tlsConn.ApplyPreset(&spec); err != nil {
		conn.Close()
		return nil, fmt.Errorf("apply chrome tls spec: %w", err)
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return tlsConn, nil
}
