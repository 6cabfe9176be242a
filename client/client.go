// Package client is the narrow HTTP contract this repo consumes from the
// platform API: job claims, worker lifecycle registration, the node registry,
// the deadline stream, and the published version. The API itself (storage,
// auth, pipeline CRUD) lives elsewhere; nothing here defines a wire format
// beyond the JSON bodies of these routes.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"github.com/sethgrid/pester"
	log "github.com/sirupsen/logrus"
)

const DefaultHttpTries = 4

// HttpClient lets tests substitute the pester client.
type HttpClient interface {
	Do(req *http.Request) (resp *http.Response, err error)
}

func MakePesterClient() *pester.Client {
	client := pester.New()
	client.Backoff = pester.ExponentialBackoff
	client.MaxRetries = DefaultHttpTries
	client.LogHook = func(e pester.ErrEntry) {
		log.Errorf("Retrying after failed attempt: %+v", e)
	}
	return client
}

// Client talks to the platform API.
type Client struct {
	rootURI string
	token   string
	client  HttpClient
}

// New builds a client with the default retrying transport.
func New(rootURI, token string) *Client {
	return NewCustom(rootURI, token, MakePesterClient())
}

// NewCustom builds a client with a caller-supplied transport.
func NewCustom(rootURI, token string, hc HttpClient) *Client {
	if !strings.HasSuffix(rootURI, "/") {
		rootURI = rootURI + "/"
	}
	return &Client{rootURI: rootURI, token: token, client: hc}
}

// do issues one JSON request. A nil out discards the response body, a nil in
// sends no body. Non-2xx statuses other than okStatuses become errors.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}, okStatuses ...int) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encoding request")
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.rootURI+path, body)
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "token "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()
	if !statusOk(resp.StatusCode, okStatuses) {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errors.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, string(raw))
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decoding %s %s response", method, path)
	}
	return nil
}

func statusOk(status int, extra []int) bool {
	if status >= 200 && status < 300 {
		return true
	}
	for _, ok := range extra {
		if status == ok {
			return true
		}
	}
	return false
}

func query(params map[string]string) string {
	vals := url.Values{}
	for k, v := range params {
		if v != "" {
			vals.Set(k, v)
		}
	}
	if len(vals) == 0 {
		return ""
	}
	return "?" + vals.Encode()
}

func itoa(i int) string {
	return fmt.Sprintf("%d", i)
}
