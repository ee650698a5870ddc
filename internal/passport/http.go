package passport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxResponseBytes = 1 << 20

// HTTPPoster posts over HTTPS with net/http.
type HTTPPoster struct {
	Client *http.Client
	Scheme string
}

var _ Poster = (*HTTPPoster)(nil)

func NewHTTPPoster(timeout time.Duration) *HTTPPoster {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPPoster{
		Client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
			},
		},
		Scheme: "https",
	}
}

func (p *HTTPPoster) Post(ctx context.Context, req Request) (string, error) {
	scheme := p.Scheme
	if scheme == "" {
		scheme = "https"
	}
	target := fmt.Sprintf("%s://%s%s", scheme, req.Host, req.Path)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(req.Body))
	if err != nil {
		return "", err
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if host := req.Header.Get("Host"); host != "" {
		httpReq.Host = host
	}
	httpReq.ContentLength = int64(len(req.Body))

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", err
	}
	// Faults come back as 500 with a SOAP body; the caller classifies it.
	return string(body), nil
}
