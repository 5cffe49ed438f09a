// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jenkins

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/netutil"
	"github.com/kfatehi/github-webhook-jenkins-proxy/lib/version"
)

// Config holds configuration for creating a Jenkins Client.
type Config struct {
	// BaseURL is the Jenkins root, for example
	// "https://ci.example.com" or "http://localhost:8080/jenkins".
	// Required.
	BaseURL string

	// User and APIToken are sent as HTTP basic auth when User is
	// non-empty.
	User     string
	APIToken string

	// CrumbIssuer makes the client fetch a CSRF crumb from
	// /crumbIssuer/api/json and send it with every POST. Needed when
	// the Jenkins instance has CSRF protection enabled and the
	// credentials are a password rather than an API token.
	CrumbIssuer bool

	// HTTPClient is used for all requests. Its CheckRedirect is
	// overridden so that 303 responses reach the client. Defaults to
	// a client with no timeout; callers bound requests with ctx.
	HTTPClient *http.Client

	// Logger defaults to a discard logger.
	Logger *slog.Logger
}

// Client talks to one Jenkins instance. It is safe for concurrent use.
type Client struct {
	baseURL     string
	user        string
	apiToken    string
	crumbIssuer bool
	httpClient  *http.Client
	logger      *slog.Logger

	crumbMu sync.Mutex
	crumb   *crumb
}

type crumb struct {
	Field string `json:"crumbRequestField"`
	Value string `json:"crumb"`
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("jenkins: BaseURL is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("jenkins: parsing BaseURL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("jenkins: BaseURL must be http or https (got %q)", cfg.BaseURL)
	}

	httpClient := &http.Client{}
	if cfg.HTTPClient != nil {
		copied := *cfg.HTTPClient
		httpClient = &copied
	}
	httpClient.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Client{
		baseURL:     baseURL,
		user:        cfg.User,
		apiToken:    cfg.APIToken,
		crumbIssuer: cfg.CrumbIssuer,
		httpClient:  httpClient,
		logger:      logger,
	}, nil
}

// JobPath converts a "/"-separated project name into its URL path,
// escaping each segment: "team/my service" → "/job/team/job/my%20service".
func JobPath(project string) string {
	var builder strings.Builder
	for segment := range strings.SplitSeq(strings.Trim(project, "/"), "/") {
		builder.WriteString("/job/")
		builder.WriteString(url.PathEscape(segment))
	}
	return builder.String()
}

var queueItemLocation = regexp.MustCompile(`/queue/item/(\d+)/?$`)

// SubmitBuild asks Jenkins to build project with the given parameters
// and returns the queue item number. It returns ErrDuplicateSubmission
// when Jenkins reports that the same build is already queued.
func (client *Client) SubmitBuild(ctx context.Context, project string, parameters map[string]string) (int64, error) {
	form := url.Values{}
	for name, value := range parameters {
		form.Set(name, value)
	}
	path := JobPath(project) + "/buildWithParameters"

	response, err := client.post(ctx, path, form)
	if err != nil {
		return 0, err
	}
	defer response.Body.Close()

	switch response.StatusCode {
	case http.StatusCreated:
	case http.StatusSeeOther:
		return 0, ErrDuplicateSubmission
	default:
		return 0, &APIError{
			StatusCode: response.StatusCode,
			Method:     http.MethodPost,
			Path:       path,
			Message:    netutil.ErrorBody(response.Body),
		}
	}

	location := response.Header.Get("Location")
	match := queueItemLocation.FindStringSubmatch(location)
	if match == nil {
		return 0, fmt.Errorf("jenkins: submitting %s: no queue item in Location %q", project, location)
	}
	handle, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("jenkins: submitting %s: parsing queue item: %w", project, err)
	}
	client.logger.Debug("build submitted", "project", project, "queue_item", handle)
	return handle, nil
}

// QueueItem reads queue item handle.
func (client *Client) QueueItem(ctx context.Context, handle int64) (*QueueItem, error) {
	var item QueueItem
	path := "/queue/item/" + strconv.FormatInt(handle, 10) + "/api/json"
	if err := client.getJSON(ctx, path, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// Build reads build number id of project.
func (client *Client) Build(ctx context.Context, project string, id int64) (*Build, error) {
	var build Build
	path := JobPath(project) + "/" + strconv.FormatInt(id, 10) + "/api/json"
	if err := client.getJSON(ctx, path, &build); err != nil {
		return nil, err
	}
	return &build, nil
}

func (client *Client) getJSON(ctx context.Context, path string, result any) error {
	response, err := client.doRaw(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return &APIError{
			StatusCode: response.StatusCode,
			Method:     http.MethodGet,
			Path:       path,
			Message:    netutil.ErrorBody(response.Body),
		}
	}
	if err := netutil.DecodeResponse(response.Body, result); err != nil {
		return fmt.Errorf("jenkins: decoding %s: %w", path, err)
	}
	return nil
}

// post sends a form POST, attaching the CSRF crumb when configured. A
// 403 with a cached crumb drops the crumb and retries once, since
// Jenkins invalidates crumbs when its session store restarts.
func (client *Client) post(ctx context.Context, path string, form url.Values) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		headerName, headerValue, err := client.crumbHeader(ctx)
		if err != nil {
			return nil, err
		}
		response, err := client.doRaw(ctx, http.MethodPost, path, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", func(request *http.Request) {
			if headerName != "" {
				request.Header.Set(headerName, headerValue)
			}
		})
		if err != nil {
			return nil, err
		}
		if response.StatusCode == http.StatusForbidden && headerName != "" && attempt == 0 {
			io.Copy(io.Discard, io.LimitReader(response.Body, netutil.MaxResponseSize))
			response.Body.Close()
			client.logger.Info("jenkins rejected crumb, refreshing", "path", path)
			client.dropCrumb()
			continue
		}
		return response, nil
	}
}

func (client *Client) crumbHeader(ctx context.Context) (string, string, error) {
	if !client.crumbIssuer {
		return "", "", nil
	}
	client.crumbMu.Lock()
	defer client.crumbMu.Unlock()
	if client.crumb == nil {
		var fetched crumb
		if err := client.getJSON(ctx, "/crumbIssuer/api/json", &fetched); err != nil {
			return "", "", fmt.Errorf("jenkins: fetching crumb: %w", err)
		}
		client.crumb = &fetched
	}
	return client.crumb.Field, client.crumb.Value, nil
}

func (client *Client) dropCrumb() {
	client.crumbMu.Lock()
	client.crumb = nil
	client.crumbMu.Unlock()
}

func (client *Client) doRaw(ctx context.Context, method, path string, body io.Reader, contentType string, decorate ...func(*http.Request)) (*http.Response, error) {
	request, err := http.NewRequestWithContext(ctx, method, client.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("jenkins: creating request: %w", err)
	}
	if client.user != "" {
		request.SetBasicAuth(client.user, client.apiToken)
	}
	request.Header.Set("Accept", "application/json")
	request.Header.Set("User-Agent", version.UserAgent())
	if contentType != "" {
		request.Header.Set("Content-Type", contentType)
	}
	for _, apply := range decorate {
		apply(request)
	}

	response, err := client.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("jenkins: %s %s: %w", method, path, err)
	}
	return response, nil
}
