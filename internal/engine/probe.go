package engine

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/net/proxy"
)

// ProbeTimeout bounds a delay measurement through a running session.
const ProbeTimeout = 3 * time.Second

// LocalSocksAddr is the loopback address of a local SOCKS inbound.
func LocalSocksAddr(port int) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}

// MeasureHTTP issues a GET to url with the given dial function and returns
// the elapsed milliseconds until the response headers arrive.
func MeasureHTTP(ctx context.Context, dial func(ctx context.Context, network, addr string) (net.Conn, error), url string) (int64, error) {
	tr := &http.Transport{
		DialContext:       dial,
		DisableKeepAlives: true,
		Proxy:             nil,
	}
	defer tr.CloseIdleConnections()
	client := &http.Client{
		Transport: tr,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return -1, fmt.Errorf("[Probe] bad url %q: %w", url, err)
	}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return -1, fmt.Errorf("[Probe] request %s: %w", url, err)
	}
	elapsed := time.Since(start)
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return -1, fmt.Errorf("[Probe] %s returned %d", url, resp.StatusCode)
	}
	return elapsed.Milliseconds(), nil
}

// MeasureThroughSOCKS measures url latency through a SOCKS5 inbound.
func MeasureThroughSOCKS(ctx context.Context, socksAddr, url string) (int64, error) {
	d, err := proxy.SOCKS5("tcp", socksAddr, nil, proxy.Direct)
	if err != nil {
		return -1, fmt.Errorf("[Probe] socks dialer: %w", err)
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return -1, fmt.Errorf("[Probe] socks dialer has no context support")
	}
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()
	return MeasureHTTP(ctx, cd.DialContext, url)
}

// CheckInbound reports whether something accepts TCP connections on addr.
func CheckInbound(ctx context.Context, addr string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}
