package http

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

type Request struct {
	Method      string
	URL         string
	Headers     map[string]string
	QueryParams map[string]string
	Body        string

	BasicUser     string
	BasicPassword string
	BearerToken   string
}

func NewRequest(method, requestURL string) *Request {
	if method == "" {
		method = "GET"
	}
	return &Request{
		Method:      strings.ToUpper(method),
		URL:         requestURL,
		Headers:     make(map[string]string),
		QueryParams: make(map[string]string),
	}
}

func (r *Request) SetHeader(key, value string) *Request {
	r.Headers[key] = value
	return r
}

func (r *Request) SetBody(body string) *Request {
	r.Body = body
	return r
}

func (r *Request) SetQueryParam(key, value string) *Request {
	r.QueryParams[key] = value
	return r
}

// FullURL validates the URL and merges QueryParams into its query string.
func (r *Request) FullURL() (string, error) {
	if err := ValidateURL(r.URL); err != nil {
		return "", err
	}
	if len(r.QueryParams) == 0 {
		return r.URL, nil
	}

	u, err := url.Parse(r.URL)
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", r.URL, err)
	}
	q := u.Query()
	keys := make([]string, 0, len(r.QueryParams))
	for k := range r.QueryParams {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		q.Set(k, r.QueryParams[k])
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ValidateURL rejects URLs that are not absolute http(s) URLs.
func ValidateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("URL is empty")
	}
	if strings.Contains(raw, "{{") {
		return fmt.Errorf("URL %q contains unresolved variables", raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported URL scheme %q in %q", u.Scheme, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("URL %q has no host", raw)
	}
	return nil
}

// String renders the request line used in step traces.
func (r *Request) String() string {
	return r.Method + " " + r.URL
}
