package whttp

import (
	"context"
	"io"
	stdlog "log"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

type WHTTPHeader struct {
	Name  string
	Value string
}

type WHTTPReq struct {
	URL     string
	Method  string
	Headers []WHTTPHeader
}

type WHTTPRes struct {
	StatusCode int
	BodyString string
}

// NewClient builds a retryablehttp client with its chatty default logger
// silenced. retryMax covers transport-level retries (connection resets,
// 5xx); the ingestion pipeline layers its own backoff on top.
func NewClient(timeout time.Duration, retryMax int) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.Logger = stdlog.New(io.Discard, "", 0)
	c.RetryMax = retryMax
	c.HTTPClient.Timeout = timeout
	return c
}

func SendHTTPRequest(wReq *WHTTPReq, client *retryablehttp.Client) (*WHTTPRes, error) {
	return SendHTTPRequestContext(context.Background(), wReq, client)
}

func SendHTTPRequestContext(ctx context.Context, wReq *WHTTPReq, client *retryablehttp.Client) (*WHTTPRes, error) {
	if client == nil {
		client = NewClient(30*time.Second, 2)
	}

	req, err := retryablehttp.NewRequest(wReq.Method, wReq.URL, nil)
	if err != nil {
		return nil, err
	}
	req = req.WithContext(ctx)

	// Set common headers
	req.Header.Set("User-Agent", "gridpulse (+https://github.com/gridpulse/gridpulse)")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "en")

	for _, h := range wReq.Headers {
		req.Header.Add(h.Name, h.Value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}

	return &WHTTPRes{
		StatusCode: resp.StatusCode,
		BodyString: string(bodyBytes),
	}, nil
}
