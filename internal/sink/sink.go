package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/devblac/event-watcher/internal/config"
)

// EventPayload is the data passed to sinks and their templates.
type EventPayload struct {
	Subscription string
	Event        string
	Contract     string
	BlockNumber  uint64
	Hash         string
	TxHash       string
	LogIndex     uint
	Fields       map[string]any
	// Decoded holds the named decoder's result, if the subscription has one.
	Decoded any
}

type Sender interface {
	Send(ctx context.Context, payload EventPayload) error
}

type httpSender struct {
	url     string
	method  string
	render  *template.Template
	client  *http.Client
	headers map[string]string
}

// NewWebhookSender builds a generic HTTP sink.
func NewWebhookSender(url, method, tmpl string, headers map[string]string) (Sender, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook url required")
	}
	if method == "" {
		method = http.MethodPost
	}
	t, err := parseTemplate(tmpl)
	if err != nil {
		return nil, err
	}
	return &httpSender{
		url:     url,
		method:  strings.ToUpper(method),
		render:  t,
		client:  defaultClient(),
		headers: headers,
	}, nil
}

// NewSlackSender builds a Slack-compatible webhook sink.
func NewSlackSender(url, tmpl string) (Sender, error) {
	return NewWebhookSender(url, http.MethodPost, tmpl, map[string]string{
		"Content-Type": "application/json",
	})
}

// NewTeamsSender builds a Teams-compatible webhook sink.
func NewTeamsSender(url, tmpl string) (Sender, error) {
	// Teams accepts simple {text: "..."} payloads.
	return NewWebhookSender(url, http.MethodPost, tmpl, map[string]string{
		"Content-Type": "application/json",
	})
}

func (s *httpSender) Send(ctx context.Context, payload EventPayload) error {
	bodyStr, err := executeTemplate(s.render, payload)
	if err != nil {
		return err
	}
	reqBody, err := json.Marshal(map[string]string{
		"text": bodyStr,
	})
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, s.method, s.url, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sink http status %d", resp.StatusCode)
	}
	return nil
}

type logSender struct {
	log    *slog.Logger
	render *template.Template
}

// NewLogSender writes each rendered event to the structured log.
func NewLogSender(log *slog.Logger, tmpl string) (Sender, error) {
	if log == nil {
		log = slog.Default()
	}
	t, err := parseTemplate(tmpl)
	if err != nil {
		return nil, err
	}
	return &logSender{log: log, render: t}, nil
}

func (s *logSender) Send(ctx context.Context, payload EventPayload) error {
	msg, err := executeTemplate(s.render, payload)
	if err != nil {
		return err
	}
	s.log.InfoContext(ctx, msg,
		"subscription", payload.Subscription,
		"event", payload.Event,
		"block", payload.BlockNumber,
		"tx", payload.TxHash,
		"log_index", payload.LogIndex,
	)
	return nil
}

// Build creates a sender for every configured sink, keyed by sink id.
func Build(sinks []config.Sink, log *slog.Logger) (map[string]Sender, error) {
	out := make(map[string]Sender, len(sinks))
	for _, s := range sinks {
		var (
			sender Sender
			err    error
		)
		switch s.Type {
		case "slack":
			sender, err = NewSlackSender(s.WebhookURL, s.Template)
		case "teams":
			sender, err = NewTeamsSender(s.WebhookURL, s.Template)
		case "webhook":
			sender, err = NewWebhookSender(s.URL, s.Method, s.Template, nil)
		case "log":
			sender, err = NewLogSender(log, s.Template)
		default:
			return nil, fmt.Errorf("sink %s: unsupported type %q", s.ID, s.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("sink %s: %w", s.ID, err)
		}
		out[s.ID] = sender
	}
	return out, nil
}

func parseTemplate(tmpl string) (*template.Template, error) {
	if tmpl == "" {
		tmpl = "EVENT {{.Subscription}} {{.Event}} block={{.BlockNumber}} tx={{.TxHash}}"
	}
	funcs := template.FuncMap{
		"pretty_json": func(v any) string {
			out, _ := json.MarshalIndent(v, "", "  ")
			return string(out)
		},
		"short_addr": func(addr string) string {
			if len(addr) <= 10 {
				return addr
			}
			return addr[:6] + "..." + addr[len(addr)-4:]
		},
		"field": func(fields map[string]any, name string) string {
			v, ok := fields[name]
			if !ok {
				return ""
			}
			return fmt.Sprint(v)
		},
	}
	return template.New("msg").Funcs(funcs).Parse(tmpl)
}

func executeTemplate(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return buf.String(), nil
}

func defaultClient() *http.Client {
	return &http.Client{
		Timeout: 8 * time.Second,
	}
}
