package executors

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/eleven-am/regiflow/internal/domain"
	"github.com/eleven-am/regiflow/internal/ports"
	"github.com/eleven-am/regiflow/internal/xjson"
)

const (
	bodyTypeJSON = "json"
	bodyTypeForm = "form"
	bodyTypeRaw  = "raw"
)

var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
	http.MethodHead:   true,
}

// HTTPRequestExecutor makes one outbound call per input item. Every side
// effect on an external system goes through here.
type HTTPRequestExecutor struct {
	client   *http.Client
	breakers ports.CircuitBreakerProvider
	env      map[string]string
	config   domain.HTTPConfig
	logger   *slog.Logger
}

// NewHTTPRequestExecutor builds the executor. breakers may be nil to disable
// per-host circuit breaking.
func NewHTTPRequestExecutor(client *http.Client, breakers ports.CircuitBreakerProvider, env map[string]string, config domain.HTTPConfig, logger *slog.Logger) *HTTPRequestExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = &http.Client{}
	}
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = domain.DefaultHTTPConfig().DefaultTimeout
	}
	if config.MaxResponseBytes <= 0 {
		config.MaxResponseBytes = domain.DefaultHTTPConfig().MaxResponseBytes
	}
	return &HTTPRequestExecutor{
		client:   client,
		breakers: breakers,
		env:      env,
		config:   config,
		logger:   logger.With("component", "http-request-executor"),
	}
}

func (e *HTTPRequestExecutor) Type() domain.NodeType {
	return domain.NodeTypeHTTPRequest
}

type requestSpec struct {
	method   string
	url      *Template
	headers  map[string]*Template
	body     any
	bodyType string
	timeout  time.Duration
}

func (e *HTTPRequestExecutor) parse(node *domain.Node) (*requestSpec, error) {
	spec := &requestSpec{
		method:   http.MethodGet,
		bodyType: bodyTypeJSON,
		timeout:  e.config.DefaultTimeout,
		headers:  make(map[string]*Template),
	}

	if method, ok := stringParam(node.Parameters, "method"); ok {
		spec.method = strings.ToUpper(method)
	}
	if !allowedMethods[spec.method] {
		return nil, parameterError(node, "unsupported method %q", spec.method)
	}

	rawURL, ok := stringParam(node.Parameters, "url")
	if !ok {
		return nil, parameterError(node, "url is required")
	}
	urlTemplate, err := ParseTemplate(rawURL)
	if err != nil {
		return nil, withNode(err, node)
	}
	spec.url = urlTemplate

	if headers, ok := objectParam(node.Parameters, "headers"); ok {
		for name, raw := range headers {
			text, isString := raw.(string)
			if !isString {
				return nil, parameterError(node, "header %s must be a string", name)
			}
			tmpl, err := ParseTemplate(text)
			if err != nil {
				return nil, withNode(err, node)
			}
			spec.headers[name] = tmpl
		}
	}

	if bodyType, ok := stringParam(node.Parameters, "bodyType"); ok {
		switch bodyType {
		case bodyTypeJSON, bodyTypeForm, bodyTypeRaw:
			spec.bodyType = bodyType
		default:
			return nil, parameterError(node, "bodyType must be json, form or raw")
		}
	}

	if body, ok := node.Parameters["body"]; ok && body != nil {
		if err := checkStructure(body); err != nil {
			return nil, withNode(err, node)
		}
		if _, isObject := body.(map[string]any); spec.bodyType == bodyTypeForm && !isObject {
			return nil, parameterError(node, "form body must be an object")
		}
		spec.body = body
	}

	timeout, set, err := durationParam(node.Parameters, "timeout")
	if err != nil {
		return nil, parameterError(node, "%v", err)
	}
	if set {
		if timeout <= 0 {
			return nil, parameterError(node, "timeout must be positive")
		}
		spec.timeout = timeout
	}

	return spec, nil
}

func (e *HTTPRequestExecutor) CheckParameters(node *domain.Node) error {
	_, err := e.parse(node)
	return err
}

func (e *HTTPRequestExecutor) Execute(ctx context.Context, node *domain.Node, input []domain.Item) (ports.StepOutcome, error) {
	spec, err := e.parse(node)
	if err != nil {
		return ports.StepOutcome{}, err
	}

	output := make([]domain.Item, 0, len(input))
	for _, item := range input {
		if item == nil {
			item = domain.Item{}
		}
		result, err := e.call(ctx, node, spec, item)
		if err != nil {
			return ports.StepOutcome{}, err
		}
		output = append(output, result)
	}
	return ports.StepOutcome{Output: output}, nil
}

func (e *HTTPRequestExecutor) call(ctx context.Context, node *domain.Node, spec *requestSpec, item domain.Item) (domain.Item, error) {
	target, err := spec.url.Render(item, e.env)
	if err != nil {
		return nil, withNode(err, node)
	}
	parsed, err := url.Parse(target)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, domain.NewValidationError(domain.RuleStepInput, node.ID, "rendered url %q is not absolute", target)
	}

	body, contentType, err := e.encodeBody(spec, item)
	if err != nil {
		return nil, withNode(err, node)
	}

	headers := make(http.Header)
	if e.config.UserAgent != "" {
		headers.Set("User-Agent", e.config.UserAgent)
	}
	if contentType != "" {
		headers.Set("Content-Type", contentType)
	}
	for name, tmpl := range spec.headers {
		value, err := tmpl.Render(item, e.env)
		if err != nil {
			return nil, withNode(err, node)
		}
		headers.Set(name, value)
	}

	var result domain.Item
	do := func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, spec.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(callCtx, spec.method, target, bytes.NewReader(body))
		if err != nil {
			return domain.NewValidationError(domain.RuleStepInput, node.ID, "build request: %v", err)
		}
		req.Header = headers.Clone()

		result, err = e.roundTrip(req)
		return err
	}

	if e.breakers == nil {
		err = do(ctx)
	} else {
		err = e.breakers.Get(parsed.Host).Call(ctx, do)
	}
	if err != nil {
		if errors.Is(err, domain.ErrCircuitOpen) {
			return nil, domain.NewTransientError("circuit "+parsed.Host, err)
		}
		return nil, err
	}
	return result, nil
}

func (e *HTTPRequestExecutor) roundTrip(req *http.Request) (domain.Item, error) {
	started := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, domain.NewTransientError(req.Method+" "+req.URL.Host, fmt.Errorf("%w: %v", domain.ErrTimeout, err))
		}
		return nil, domain.NewTransientError(req.Method+" "+req.URL.Host, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, e.config.MaxResponseBytes))
	if err != nil {
		return nil, domain.NewTransientError("read "+req.URL.Host, err)
	}

	e.logger.Debug("http request completed",
		"method", req.Method,
		"host", req.URL.Host,
		"status", resp.StatusCode,
		"duration", time.Since(started))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.RemoteError{
			URL:        redactURL(req.URL),
			StatusCode: resp.StatusCode,
			Body:       string(raw),
		}
	}
	return decodeResponse(raw, resp.StatusCode), nil
}

func (e *HTTPRequestExecutor) encodeBody(spec *requestSpec, item domain.Item) ([]byte, string, error) {
	if spec.body == nil {
		return nil, "", nil
	}

	rendered, err := renderStructure(spec.body, item, e.env)
	if err != nil {
		return nil, "", err
	}

	switch spec.bodyType {
	case bodyTypeForm:
		form := url.Values{}
		fields := rendered.(map[string]any)
		keys := make([]string, 0, len(fields))
		for key := range fields {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			value, err := stringify(fields[key])
			if err != nil {
				return nil, "", err
			}
			form.Set(key, value)
		}
		return []byte(form.Encode()), "application/x-www-form-urlencoded", nil
	case bodyTypeRaw:
		text, err := stringify(rendered)
		if err != nil {
			return nil, "", err
		}
		return []byte(text), "text/plain; charset=utf-8", nil
	default:
		if text, isString := rendered.(string); isString {
			return []byte(text), "application/json", nil
		}
		data, err := xjson.Marshal(rendered)
		if err != nil {
			return nil, "", err
		}
		return data, "application/json", nil
	}
}

func decodeResponse(raw []byte, status int) domain.Item {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return domain.Item{"status": float64(status)}
	}
	if trimmed[0] == '{' {
		if obj, err := xjson.DecodeObject(trimmed); err == nil {
			return domain.Item(obj)
		}
	}
	if trimmed[0] == '[' {
		var list []any
		if err := xjson.Unmarshal(trimmed, &list); err == nil {
			return domain.Item{"body": list, "status": float64(status)}
		}
	}
	return domain.Item{"body": string(raw), "status": float64(status)}
}

// redactURL drops credentials and the query string, which is where API keys
// tend to live.
func redactURL(u *url.URL) string {
	clean := *u
	clean.User = nil
	clean.RawQuery = ""
	return clean.String()
}

// BreakerFailure reports whether err should count against a host's circuit
// breaker: transport failures and 5xx or 429 responses do, client errors
// and bad input do not.
func BreakerFailure(err error) bool {
	var remote *domain.RemoteError
	if errors.As(err, &remote) {
		return remote.StatusCode >= 500 || remote.StatusCode == http.StatusTooManyRequests
	}
	return domain.IsTransientError(err)
}
