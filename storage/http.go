package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/carlmjohnson/requests"
)

// HTTP reads documents with GET and writes them with PUT relative
// to BaseURL. Works with WebDAV shares and simple upload servers.
type HTTP struct {
	BaseURL string
	// optional, sent as X-Api-Key
	ApiKey string
	// optional, defaults to http.DefaultClient
	Client *http.Client
	// per-request timeout, defaults to 30 seconds
	Timeout time.Duration
}

var _ Backend = &HTTP{}

func (h *HTTP) ctx() (context.Context, context.CancelFunc) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}

func (h *HTTP) request(path string) (*requests.Builder, error) {
	if h.BaseURL == "" {
		return nil, fmt.Errorf("BaseURL is not set")
	}
	p, err := cleanPath(path)
	if err != nil {
		return nil, err
	}
	uri := strings.TrimSuffix(h.BaseURL, "/") + "/" + p
	rb := requests.URL(uri)
	if h.Client != nil {
		rb = rb.Client(h.Client)
	}
	if h.ApiKey != "" {
		rb = rb.Header("X-Api-Key", h.ApiKey)
	}
	return rb, nil
}

func (h *HTTP) ReadFile(path string) ([]byte, error) {
	rb, err := h.request(path)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	ctx, cancel := h.ctx()
	defer cancel()
	err = rb.ToBytesBuffer(&buf).Fetch(ctx)
	if requests.HasStatusErr(err, http.StatusNotFound) {
		return nil, notExist("get", path)
	}
	if err != nil {
		return nil, fmt.Errorf("GET '%s' failed: %w", path, err)
	}
	return buf.Bytes(), nil
}

// Open downloads the whole document, the snapshot doesn't change
// when the remote file does
func (h *HTTP) Open(path string) (io.ReadSeekCloser, error) {
	d, err := h.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return newBytesReader(d), nil
}

func (h *HTTP) WriteFile(path string, data []byte) error {
	rb, err := h.request(path)
	if err != nil {
		return err
	}
	ctx, cancel := h.ctx()
	defer cancel()
	err = rb.
		Method(http.MethodPut).
		BodyBytes(data).
		ContentType("application/xml").
		Fetch(ctx)
	if err != nil {
		return fmt.Errorf("PUT '%s' failed: %w", path, err)
	}
	return nil
}

func (h *HTTP) Exists(path string) (bool, error) {
	rb, err := h.request(path)
	if err != nil {
		return false, err
	}
	ctx, cancel := h.ctx()
	defer cancel()
	err = rb.Head().Fetch(ctx)
	if requests.HasStatusErr(err, http.StatusNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("HEAD '%s' failed: %w", path, err)
	}
	return true, nil
}
