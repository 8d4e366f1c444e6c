package removal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/mohamurshid/AutoRemoveAi/internal/apperr"
	"github.com/mohamurshid/AutoRemoveAi/pkg/log"
)

const maxResponseBytes = 64 << 20

// User-facing reasons for the failures the service distinguishes.
const (
	MsgInsufficientCredits = "Insufficient credits."
	MsgInvalidAPIKey       = "Invalid API Key."
	MsgMalformedResponse   = "Malformed response"
)

// Image is the input of one removal call.
type Image struct {
	Name        string
	ContentType string
	Data        []byte
}

// Remover is the opaque background-removal operation.
type Remover interface {
	Remove(ctx context.Context, img Image) ([]byte, error)
}

// Client calls a remove.bg compatible HTTP API.
// Thread-safe for concurrent use.
type Client struct {
	config     *Config
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a new removal client with the given configuration
//
// Example:
//
//	client, err := removal.NewClient(&removal.Config{
//		APIKey:  os.Getenv("REMOVAL_API_KEY"),
//		APIURL:  removal.DefaultAPIURL,
//		Timeout: 60,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	png, err := client.Remove(ctx, removal.Image{Name: "a.jpg", Data: raw})
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Client{
		config:  config,
		baseURL: config.APIURL,
		httpClient: &http.Client{
			Timeout: time.Duration(config.Timeout) * time.Second,
		},
	}, nil
}

// Remove uploads img and returns the PNG the service produced. Failures are
// *apperr.Error values typed Authorization, Remote or Transport.
func (c *Client) Remove(ctx context.Context, img Image) ([]byte, error) {
	body, contentType, err := c.encodeRequest(img)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrTransport, "failed to encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, body)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrTransport, "failed to create request")
	}
	for key, value := range c.config.GetHeaders() {
		req.Header.Set(key, value)
	}
	req.Header.Set("Content-Type", contentType)

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrTransport, "failed to read response body")
	}

	if err := classifyStatus(resp, data); err != nil {
		return nil, err.WithContext("image", img.Name)
	}
	if len(data) == 0 || isJSON(resp.Header.Get("Content-Type")) {
		return nil, apperr.New(apperr.ErrRemote, MsgMalformedResponse).
			WithStatus(resp.StatusCode).
			WithContext("image", img.Name)
	}

	log.Debug("Removed background of %s in %s (%s)", img.Name, time.Since(started).Round(time.Millisecond), humanize.Bytes(uint64(len(data))))
	return data, nil
}

func (c *Client) encodeRequest(img Image) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("size", c.config.size()); err != nil {
		return nil, "", err
	}

	name := img.Name
	if name == "" {
		name = "image"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image_file"; filename=%q`, name))
	if img.ContentType != "" {
		header.Set("Content-Type", img.ContentType)
	} else {
		header.Set("Content-Type", "application/octet-stream")
	}
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(img.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func classifyStatus(resp *http.Response, body []byte) *apperr.Error {
	code := resp.StatusCode
	if code >= 200 && code < 300 {
		return nil
	}

	var e *apperr.Error
	switch code {
	case http.StatusPaymentRequired:
		e = apperr.New(apperr.ErrAuthorization, MsgInsufficientCredits)
	case http.StatusUnauthorized, http.StatusForbidden:
		e = apperr.New(apperr.ErrAuthorization, MsgInvalidAPIKey)
	default:
		e = apperr.New(apperr.ErrRemote, statusMessage(resp))
	}
	if len(body) > 0 {
		e.WithContext("body", truncate(string(body), 256))
	}
	return e.WithStatus(code)
}

// statusMessage renders "<code> <status text>".
func statusMessage(resp *http.Response) string {
	prefix := strconv.Itoa(resp.StatusCode)
	if status := strings.TrimSpace(resp.Status); strings.HasPrefix(status, prefix+" ") {
		return status
	}
	if text := http.StatusText(resp.StatusCode); text != "" {
		return prefix + " " + text
	}
	return prefix
}

func transportError(err error) *apperr.Error {
	switch {
	case errors.Is(err, context.Canceled):
		return apperr.Wrap(err, apperr.ErrTransport, "Cancelled")
	case os.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded):
		return apperr.Wrap(err, apperr.ErrTransport, "Request timed out")
	}
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		msg = "Failed"
	}
	return apperr.Wrap(err, apperr.ErrTransport, msg)
}

func isJSON(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "json")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
