// Package files is the HTTP client of the file worker that stores entry
// attachments.
package files

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/bitacora/internal/client/models"
	"github.com/dmitrijs2005/bitacora/internal/common"
	"github.com/dmitrijs2005/bitacora/internal/logging"
	"github.com/dmitrijs2005/bitacora/internal/retry"
)

const DefaultTimeout = 30 * time.Second

// UploadResponse is the JSON body returned by POST /upload.
type UploadResponse struct {
	URL      string `json:"url"`
	FileName string `json:"fileName"`
	Size     int64  `json:"size"`
	Type     string `json:"type"`
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

func WithPolicy(p retry.Policy) Option {
	return func(cl *Client) { cl.policy = p }
}

func WithLogger(l logging.Logger) Option {
	return func(cl *Client) { cl.log = l }
}

type Client struct {
	baseURL string
	http    *http.Client
	policy  retry.Policy
	log     logging.Logger
	newName func(string) string
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
		policy:  retry.DefaultPolicy(),
		log:     logging.Discard(),
		newName: ObjectName,
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.With("module", "files")
	return c
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ObjectName derives a unique storage name from the user's file name.
func ObjectName(original string) string {
	base := unsafeChars.ReplaceAllString(path.Base(strings.ReplaceAll(original, `\`, "/")), "_")
	base = strings.Trim(base, "_.")
	if base == "" {
		base = "archivo"
	}
	return uuid.NewString()[:8] + "-" + base
}

// FileName extracts the object name from an attachment URL.
func FileName(a models.Attachment) string {
	if u, err := url.Parse(a.URL); err == nil && u.Path != "" {
		if name := path.Base(u.Path); name != "/" && name != "." {
			if unescaped, err := url.PathUnescape(name); err == nil {
				return unescaped
			}
			return name
		}
	}
	return a.Name
}

// Upload sends one file and returns the attachment descriptor stored with
// the entry.
func (c *Client) Upload(ctx context.Context, up models.Upload) (models.Attachment, error) {
	name := c.newName(up.Name)

	var out UploadResponse
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		body, contentType, err := multipartBody(name, up)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", body)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", contentType)

		resp, err := c.do(req, "upload")
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("failed to decode upload response: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.Attachment{}, err
	}

	a := models.Attachment{URL: out.URL, Name: up.Name, Type: out.Type, Size: out.Size}
	if a.Type == "" {
		a.Type = up.Type
	}
	if a.Size == 0 {
		a.Size = int64(len(up.Content))
	}
	c.log.Debug(ctx, "uploaded", "file", out.FileName, "size", a.Size)
	return a, nil
}

func multipartBody(name string, up models.Upload) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("fileName", name); err != nil {
		return nil, "", err
	}
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(up.Content); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// Delete removes an object. A missing object is not an error.
func (c *Client) Delete(ctx context.Context, fileName string) error {
	return c.policy.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/delete/"+url.PathEscape(fileName), nil)
		if err != nil {
			return err
		}
		resp, err := c.do(req, "delete")
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return nil
			}
			return err
		}
		_ = resp.Body.Close()
		return nil
	})
}

// Download streams an object into w and returns the number of bytes copied.
func (c *Client) Download(ctx context.Context, fileName string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/download/"+url.PathEscape(fileName), nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.do(req, "download")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, common.Connectivity(err)
	}
	return n, nil
}

// do sends req and classifies the outcome: transport failures and gateway
// statuses are connectivity errors, other non-2xx statuses are remote
// logical errors.
func (c *Client) do(req *http.Request, op string) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, common.Connectivity(err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	_ = resp.Body.Close()
	status := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))

	switch {
	case resp.StatusCode == http.StatusBadGateway,
		resp.StatusCode == http.StatusServiceUnavailable,
		resp.StatusCode == http.StatusGatewayTimeout:
		return nil, common.Connectivity(status)
	case resp.StatusCode == http.StatusNotFound:
		return nil, &common.RemoteError{Op: op, Err: common.ErrNotFound}
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, &common.RemoteError{Op: op, Err: fmt.Errorf("%w: %v", common.ErrPermissionDenied, status)}
	default:
		return nil, &common.RemoteError{Op: op, Err: status}
	}
}
