// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metarpc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	rpc "github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"

	"github.com/luxfi/metarpc/internal/log"
	"github.com/luxfi/metarpc/meta"
	"github.com/luxfi/metarpc/object"
	"github.com/luxfi/metarpc/typesys"
)

const (
	maxRetries    = 3
	retryBaseWait = 500 * time.Millisecond

	// JSONServiceName prefixes the methods of the JSON bridge, as in
	// "metarpc.Call".
	JSONServiceName = "metarpc"
)

// newHTTPClient creates a fresh HTTP client with disabled connection reuse.
func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DisableKeepAlives: true,
		},
	}
}

// CleanlyCloseBody drains and closes an HTTP response body to prevent
// HTTP/2 GOAWAY errors caused by closing bodies with unread data.
// See: https://github.com/golang/go/issues/46071
func CleanlyCloseBody(body io.ReadCloser) error {
	if body == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, body)
	return body.Close()
}

// isRetryableError checks if an error is transient and worth retrying
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	if errors.Is(err, io.EOF) || strings.Contains(errStr, "EOF") {
		return true
	}
	return strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "broken pipe")
}

// SendJSONRequest issues a JSON-RPC 2.0 request, retrying transient
// connection failures with exponential backoff.
func SendJSONRequest(
	ctx context.Context,
	uri *url.URL,
	method string,
	params interface{},
	reply interface{},
	options ...Option,
) error {
	logger := log.Category("metarpc.transport").WithField("method", method)
	logger.WithField("uri", uri.String()).Debug("sending JSON request")
	requestBodyBytes, err := json2.EncodeClientRequest(method, params)
	if err != nil {
		return fmt.Errorf("failed to encode client params: %w", err)
	}

	ops := NewOptions(options)
	uri.RawQuery = ops.queryParams.Encode()

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			waitTime := retryBaseWait * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(waitTime):
			}
		}

		// the body buffer is consumed by each attempt
		request, err := http.NewRequestWithContext(
			ctx,
			http.MethodPost,
			uri.String(),
			bytes.NewBuffer(requestBodyBytes),
		)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		request.Header = ops.headers.Clone()
		request.Header.Set("Content-Type", "application/json")

		resp, err := newHTTPClient().Do(request)
		if err != nil {
			lastErr = err
			retryable := isRetryableError(err)
			logger.WithError(err).WithField("attempt", attempt+1).WithField("retryable", retryable).Warn("request attempt failed")
			if retryable {
				continue
			}
			return fmt.Errorf("failed to issue request: %w", err)
		}
		if attempt > 0 {
			logger.WithField("attempt", attempt+1).Info("request succeeded after retry")
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			_ = CleanlyCloseBody(resp.Body)
			return fmt.Errorf("received status code: %d", resp.StatusCode)
		}

		if err := json2.DecodeClientResponse(resp.Body, reply); err != nil {
			_ = CleanlyCloseBody(resp.Body)
			return fmt.Errorf("failed to decode client response: %w", err)
		}
		_ = CleanlyCloseBody(resp.Body)
		return nil
	}

	return fmt.Errorf("failed to issue request after %d retries: %w", maxRetries, lastErr)
}

// CallArgs names a method of a bound service. Args are matched against
// the overloads of Method the same way native calls are.
type CallArgs struct {
	Service string `json:"service"`
	Method  string `json:"method"`
	Args    []any  `json:"args"`
}

type CallReply struct {
	Result any `json:"result"`
}

type MetaObjectArgs struct {
	Service string `json:"service"`
}

type ServicesReply struct {
	Services []string `json:"services"`
}

// jsonBridge exposes the bound services of a server over JSON-RPC.
type jsonBridge struct {
	server *Server
}

func (b *jsonBridge) Call(r *http.Request, args *CallArgs, reply *CallReply) error {
	obj, err := b.server.Object(args.Service)
	if err != nil {
		return err
	}
	v, err := object.Call(r.Context(), obj, args.Method, args.Args...).Wait(r.Context())
	if err != nil {
		return err
	}
	reply.Result = jsonResult(v)
	return nil
}

func (b *jsonBridge) MetaObject(_ *http.Request, args *MetaObjectArgs, reply *meta.ObjectData) error {
	obj, err := b.server.Object(args.Service)
	if err != nil {
		return err
	}
	*reply = obj.MetaObject().Data()
	return nil
}

func (b *jsonBridge) Services(_ *http.Request, _ *struct{}, reply *ServicesReply) error {
	reply.Services = b.server.Services()
	return nil
}

// jsonResult returns the Go content of v. Objects cannot cross the bridge
// and are reported by description.
func jsonResult(v typesys.Value) any {
	v = v.Content()
	switch v.Kind() {
	case typesys.KindVoid, typesys.KindUnknown:
		return nil
	case typesys.KindObject:
		if h, err := v.Object(); err == nil && h != nil {
			return h.MetaObject().Description()
		}
		return nil
	}
	return v.Interface()
}

// JSONHandler returns an HTTP handler serving the JSON bridge methods
// metarpc.Call, metarpc.MetaObject and metarpc.Services.
func (s *Server) JSONHandler() (http.Handler, error) {
	srv := rpc.NewServer()
	srv.RegisterCodec(json2.NewCodec(), "application/json")
	srv.RegisterCodec(json2.NewCodec(), "application/json;charset=UTF-8")
	if err := srv.RegisterService(&jsonBridge{server: s}, JSONServiceName); err != nil {
		return nil, err
	}
	return srv, nil
}
