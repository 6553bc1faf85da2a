package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"docbatch/internal/source"
)

const (
	defaultHTTPTimeout = 60 * time.Second
	maxErrorBody       = 512
)

// responseSchema describes the JSON body an extraction backend must return.
const responseSchema = `{
  "type": "object",
  "required": ["content"],
  "properties": {
    "content": {"type": "string"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "attributes": {
      "type": "object",
      "additionalProperties": {"type": "string"}
    }
  }
}`

// HTTPConfig configures an HTTPExtractor.
type HTTPConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
	Client  *http.Client
}

// HTTPExtractor uploads each item to an extraction backend as multipart form data.
type HTTPExtractor struct {
	url        string
	apiKey     string
	httpClient *http.Client
	schema     *jsonschema.Schema
}

// HTTPStatusError is returned for non-2xx backend responses.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("extraction backend: http %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the status indicates a temporary backend condition.
func (e *HTTPStatusError) Retryable() bool {
	return e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= http.StatusInternalServerError
}

type backendResponse struct {
	Content    string            `json:"content"`
	Confidence *float64          `json:"confidence"`
	Attributes map[string]string `json:"attributes"`
}

// NewHTTPExtractor validates cfg and compiles the response schema.
func NewHTTPExtractor(cfg HTTPConfig) (*HTTPExtractor, error) {
	endpoint := strings.TrimSpace(cfg.URL)
	if endpoint == "" {
		return nil, errors.New("extractor: url is required for the http backend")
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultHTTPTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("extraction.json", strings.NewReader(responseSchema)); err != nil {
		return nil, fmt.Errorf("add response schema: %w", err)
	}
	schema, err := compiler.Compile("extraction.json")
	if err != nil {
		return nil, fmt.Errorf("compile response schema: %w", err)
	}
	return &HTTPExtractor{
		url:        endpoint,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: client,
		schema:     schema,
	}, nil
}

// Name implements Named.
func (e *HTTPExtractor) Name() string { return "http" }

// Extract implements Extractor.
func (e *HTTPExtractor) Extract(ctx context.Context, item source.Item) (Extraction, error) {
	body, contentType, err := buildUpload(item)
	if err != nil {
		return Extraction{}, Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, body)
	if err != nil {
		return Extraction{}, Permanent(fmt.Errorf("extraction backend: new request: %w", err))
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		wrapped := fmt.Errorf("extraction backend: %w", err)
		if IsTransient(err) {
			return Extraction{}, Transient(wrapped)
		}
		return Extraction{}, wrapped
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return Extraction{}, Transient(fmt.Errorf("extraction backend: read body: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &HTTPStatusError{StatusCode: resp.StatusCode, Body: snippet(payload)}
		if statusErr.Retryable() {
			return Extraction{}, Transient(statusErr)
		}
		return Extraction{}, Permanent(statusErr)
	}
	return e.decode(payload)
}

func (e *HTTPExtractor) decode(payload []byte) (Extraction, error) {
	var raw any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Extraction{}, Permanent(fmt.Errorf("extraction backend: decode response: %w", err))
	}
	if err := e.schema.Validate(raw); err != nil {
		return Extraction{}, Permanent(fmt.Errorf("extraction backend: response does not match schema: %w", err))
	}
	var parsed backendResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return Extraction{}, Permanent(fmt.Errorf("extraction backend: decode response: %w", err))
	}
	confidence := PrintableRatio(parsed.Content)
	if parsed.Confidence != nil {
		confidence = *parsed.Confidence
	}
	attrs := parsed.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	if lang, ok := attrs["language"]; ok {
		if canonical := CanonicalLanguage(lang); canonical != "" {
			attrs["language"] = canonical
		} else {
			delete(attrs, "language")
		}
	}
	return Extraction{Content: parsed.Content, Confidence: confidence, Attributes: attrs}, nil
}

// HealthCheck reports whether the backend answers HTTP at all.
func (e *HTTPExtractor) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, e.url, nil)
	if err != nil {
		return err
	}
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("extraction backend unreachable: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("extraction backend unhealthy: http %d", resp.StatusCode)
	}
	return nil
}

func buildUpload(item source.Item) (io.Reader, string, error) {
	data, err := os.ReadFile(item.Path)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", item.ID, err)
	}
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("item_id", item.ID); err != nil {
		return nil, "", err
	}
	part, err := writer.CreateFormFile("file", item.Name())
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return &buf, writer.FormDataContentType(), nil
}

func snippet(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody] + "..."
	}
	return text
}
