package github

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/ericfisherdev/gitscout/internal/application"
	"github.com/ericfisherdev/gitscout/internal/domain/model"
)

// dispatcher is the subset of application.Dispatcher the transport needs.
type dispatcher interface {
	Dispatch(ctx context.Context, service string, call application.CallFunc) (*application.Response, error)
}

// Transport is an http.RoundTripper that sends every request through the
// credential dispatcher. Each attempt carries the credential the dispatcher
// acquired for it; requests with no usable credential go out unauthenticated.
type Transport struct {
	dispatcher dispatcher
	service    string
	base       http.RoundTripper
}

// NewTransport creates a Transport for the github pool. base performs the
// actual exchange; nil means http.DefaultTransport.
func NewTransport(d dispatcher, base http.RoundTripper) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{dispatcher: d, service: model.ServiceGitHub, base: base}
}

// RoundTrip implements http.RoundTripper. The request body is buffered so it
// can be replayed on retries.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil && req.Body != http.NoBody {
		var err error
		body, err = io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("buffer request body: %w", err)
		}
	}

	res, err := t.dispatcher.Dispatch(req.Context(), t.service, func(ctx context.Context, cred *model.Credential) (*application.Response, error) {
		out := req.Clone(ctx)
		if body != nil {
			out.Body = io.NopCloser(bytes.NewReader(body))
			out.ContentLength = int64(len(body))
		}
		out.Header.Del("Authorization")
		if !model.IsAnonymous(cred) {
			out.Header.Set("Authorization", "token "+cred.Secret)
		}

		resp, err := t.base.RoundTrip(out)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
		return &application.Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
	})
	if err != nil {
		return nil, err
	}

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", res.StatusCode, http.StatusText(res.StatusCode)),
		StatusCode:    res.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        res.Header,
		Body:          io.NopCloser(bytes.NewReader(res.Body)),
		ContentLength: int64(len(res.Body)),
		Request:       req,
	}, nil
}
