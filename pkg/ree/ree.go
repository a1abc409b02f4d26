// Package ree is the client for the REE "apidatos" balance endpoint. One
// call covers one date range at one granularity and returns the raw JSON
// body; normalization happens in pkg/transform.
package ree

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/gridpulse/gridpulse/internal/utils"
	"github.com/gridpulse/gridpulse/pkg/balance"
	"github.com/gridpulse/gridpulse/pkg/errkind"
	"github.com/gridpulse/gridpulse/pkg/whttp"
)

const (
	DefaultBaseURL = "https://apidatos.ree.es"

	balancePath = "/en/datos/balance/balance-electrico"
)

// timeTrunc maps a record granularity to the API's time_trunc parameter.
var timeTrunc = map[balance.TimeScope]string{
	balance.ScopeHour:  "hour",
	balance.ScopeDay:   "day",
	balance.ScopeMonth: "month",
	balance.ScopeYear:  "year",
}

type Client struct {
	baseURL string
	http    *retryablehttp.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		// Transport retries stay low here; the pipeline owns backoff.
		http: whttp.NewClient(timeout, 1),
	}
}

// FetchRange requests the balance payload for [start, end] at the given
// granularity. extra is merged into the query string as-is.
func (c *Client) FetchRange(ctx context.Context, start, end time.Time, scope balance.TimeScope, extra url.Values) (string, error) {
	trunc, ok := timeTrunc[scope]
	if !ok {
		return "", errkind.New(errkind.InvalidTimeScope, "unknown time scope %q", scope)
	}

	q := url.Values{}
	q.Set("start_date", start.Format(utils.APIDateLayout))
	q.Set("end_date", end.Format(utils.APIDateLayout))
	q.Set("time_trunc", trunc)
	for k, vs := range extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}

	reqURL := c.baseURL + balancePath + "?" + q.Encode()
	utils.Log.Debugf("GET %s", reqURL)

	res, err := whttp.SendHTTPRequestContext(ctx, &whttp.WHTTPReq{
		Method: "GET",
		URL:    reqURL,
	}, c.http)
	if err != nil {
		if isTimeout(err) {
			return "", &errkind.Error{
				Kind:    errkind.NetworkTimeout,
				Msg:     fmt.Sprintf("request to %s timed out", c.baseURL),
				Timeout: true,
				Err:     err,
			}
		}
		return "", errkind.Wrap(errkind.NetworkError, err, "request to %s failed", c.baseURL)
	}

	if res.StatusCode != 200 {
		return "", &errkind.Error{
			Kind:       errkind.NetworkError,
			Msg:        fmt.Sprintf("upstream returned status %d", res.StatusCode),
			StatusCode: res.StatusCode,
		}
	}

	return res.BodyString, nil
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	for e := err; e != nil; {
		if t, ok := e.(timeouter); ok && t.Timeout() {
			return true
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		e = u.Unwrap()
	}
	return false
}
