// Package httpclient holds the transport and error classification shared by
// the outbound vendor clients.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"syscall"
	"time"
)

const DefaultTimeout = 10 * time.Second

// New returns an http.Client with pooled keep-alive connections.
func New(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{Timeout: timeout, Transport: transport}
}

// ClassifyError labels a transport error as a timeout, a network error or a
// generic request error. service prefixes the message.
func ClassifyError(ctx context.Context, service string, err error) error {
	if IsTimeout(ctx, err) {
		return fmt.Errorf("%s timeout: %w", service, err)
	}
	if IsNetworkError(err) {
		return fmt.Errorf("%s network error: %w", service, err)
	}
	return fmt.Errorf("%s request error: %w", service, err)
}

// StatusError reads up to 4KB of the body into an error carrying the status.
func StatusError(service string, resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if err != nil {
		return fmt.Errorf("%s http error: status=%d body=<failed to read body: %v>", service, resp.StatusCode, err)
	}
	return fmt.Errorf("%s http error: status=%d body=%s", service, resp.StatusCode, string(body))
}

func IsTimeout(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH)
}
