// Package webdav implements the Remote Adapter contract against a WebDAV
// server via raw PROPFIND requests, parsing the multistatus XML body
// directly rather than through an abstracted WebDAV client library, so the
// tolerant ETag rules in §4.E/§4.F can be applied to the raw getetag text.
package webdav

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/archivist/engine/internal/adapters"
	"github.com/archivist/engine/pkg/errors"
)

// Config configures a WebDAV source (§3: Source.Config.WebDAV).
type Config struct {
	ServerURL      string
	Username       string
	Password       string
	ServerType     string // "nextcloud", "owncloud", "generic"
	RequestTimeout time.Duration
}

// Adapter implements adapters.Adapter against a WebDAV server.
type Adapter struct {
	cfg        Config
	httpClient *http.Client
	baseURL    *url.URL
	davRoot    string // e.g. "/remote.php/dav/files/<user>" for Nextcloud, "" otherwise
}

var _ adapters.Adapter = (*Adapter)(nil)

// New builds a WebDAV adapter. For Nextcloud/ownCloud server types, the
// DAV root is derived as /remote.php/dav/files/<username>, matching the
// server's own convention; other server types use the bare server URL.
func New(cfg Config) (*Adapter, error) {
	if cfg.ServerURL == "" {
		return nil, errors.New(errors.KindValidation, "webdav server_url must not be empty")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	base, err := url.Parse(strings.TrimRight(cfg.ServerURL, "/"))
	if err != nil {
		return nil, errors.Wrap(errors.KindValidation, err, "invalid webdav server_url")
	}

	davRoot := ""
	switch strings.ToLower(cfg.ServerType) {
	case "nextcloud", "owncloud":
		davRoot = "/remote.php/dav/files/" + cfg.Username
	}

	return &Adapter{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		baseURL:    base,
		davRoot:    davRoot,
	}, nil
}

// resourceURL builds the absolute URL for a path relative to the source
// root, e.g. "/Documents" -> "https://host/remote.php/dav/files/user/Documents".
func (a *Adapter) resourceURL(relPath string) string {
	p := "/" + strings.TrimLeft(relPath, "/")
	return a.baseURL.String() + a.davRoot + p
}

// convertToRelativePath strips the server's DAV root prefix from a raw
// href returned in a PROPFIND response, so it can be stored and compared
// without re-deriving the server-specific prefix on every use. A path
// that doesn't carry the expected prefix is returned unchanged.
func (a *Adapter) convertToRelativePath(href string) string {
	decoded, err := url.PathUnescape(href)
	if err != nil {
		decoded = href
	}
	if a.davRoot != "" && strings.HasPrefix(decoded, a.davRoot) {
		rel := strings.TrimPrefix(decoded, a.davRoot)
		if rel == "" {
			rel = "/"
		}
		return rel
	}
	return href
}

const propfindBody = `<?xml version="1.0" encoding="utf-8"?>
<D:propfind xmlns:D="DAV:">
  <D:prop>
    <D:getetag/>
    <D:getcontentlength/>
    <D:getlastmodified/>
    <D:resourcetype/>
    <D:displayname/>
  </D:prop>
</D:propfind>`

// multistatus mirrors the subset of RFC 4918 PROPFIND response XML this
// adapter needs (§4.E).
type multistatus struct {
	XMLName   xml.Name   `xml:"multistatus"`
	Responses []response `xml:"response"`
}

type response struct {
	Href     string     `xml:"href"`
	Propstat []propstat `xml:"propstat"`
}

type propstat struct {
	Status string `xml:"status"`
	Prop   prop   `xml:"prop"`
}

type prop struct {
	ETag          string        `xml:"getetag"`
	ContentLength string        `xml:"getcontentlength"`
	LastModified  string        `xml:"getlastmodified"`
	DisplayName   string        `xml:"displayname"`
	ResourceType  *resourceType `xml:"resourcetype"`
}

type resourceType struct {
	Collection *struct{} `xml:"collection"`
}

// List issues a depth-1 PROPFIND against dirPath and returns its immediate
// children. The XML parser tolerates missing/empty ETags, control
// characters, and mixed weak/strong forms (§4.E): an entry is skipped if it
// has no href, or if it has no resourcetype element and either lacks a 200
// propstat or carries neither a displayname nor an ETag.
func (a *Adapter) List(ctx context.Context, dirPath string) ([]adapters.Entry, error) {
	reqURL := a.resourceURL(dirPath)

	req, err := http.NewRequestWithContext(ctx, "PROPFIND", reqURL, bytes.NewBufferString(propfindBody))
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, err, "build propfind request")
	}
	req.Header.Set("Depth", "1")
	req.Header.Set("Content-Type", "application/xml; charset=utf-8")
	if a.cfg.Username != "" {
		req.SetBasicAuth(a.cfg.Username, a.cfg.Password)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.KindNetwork, err, "propfind request failed").WithDetail("url", reqURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, errors.New(errors.KindAccessDenied, "webdav authentication failed").
			WithDetail("status", strconv.Itoa(resp.StatusCode))
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, errors.New(errors.KindNotFound, "webdav path not found").WithDetail("path", dirPath)
	}
	if resp.StatusCode != http.StatusMultiStatus && resp.StatusCode != http.StatusOK {
		return nil, errors.New(errors.KindRemoteUnavailable, fmt.Sprintf("unexpected webdav status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(errors.KindNetwork, err, "read propfind response body")
	}

	var ms multistatus
	if err := xml.Unmarshal(body, &ms); err != nil {
		return nil, errors.Wrap(errors.KindUnsupportedFormat, err, "parse propfind multistatus")
	}

	requestedRel := "/" + strings.Trim(dirPath, "/")
	if requestedRel == "/" {
		requestedRel = ""
	}

	var entries []adapters.Entry
	for _, r := range ms.Responses {
		if r.Href == "" {
			continue
		}
		p, ok := firstOKProp(r.Propstat)
		if !ok || p.ResourceType == nil && p.DisplayName == "" && p.ETag == "" {
			// Best-effort: keep entries that at least carry an href and a
			// resourcetype element; skip genuinely empty ones.
			if p.ResourceType == nil {
				continue
			}
		}

		rel := a.convertToRelativePath(r.Href)
		rel = strings.TrimRight(rel, "/")
		if rel == "" || rel == requestedRel {
			continue // the directory itself
		}

		isDir := p.ResourceType != nil && p.ResourceType.Collection != nil
		name := p.DisplayName
		if name == "" {
			parts := strings.Split(strings.Trim(rel, "/"), "/")
			name = parts[len(parts)-1]
		}

		entry := adapters.Entry{
			Name: name,
			Path: rel,
			ETag: p.ETag,
		}
		if isDir {
			entry.Kind = adapters.KindDir
		} else {
			entry.Kind = adapters.KindFile
			entry.Size = parseContentLength(p.ContentLength)
			entry.ModTime = parseHTTPDate(p.LastModified)
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

func firstOKProp(stats []propstat) (prop, bool) {
	for _, s := range stats {
		if strings.Contains(s.Status, "200") {
			return s.Prop, true
		}
	}
	if len(stats) > 0 {
		return stats[0].Prop, false
	}
	return prop{}, false
}

func parseContentLength(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func parseHTTPDate(s string) time.Time {
	t, err := http.ParseTime(strings.TrimSpace(s))
	if err != nil {
		return time.Time{}
	}
	return t
}

// Download retrieves the full contents of the file at path.
func (a *Adapter) Download(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.resourceURL(path), nil)
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, err, "build download request")
	}
	if a.cfg.Username != "" {
		req.SetBasicAuth(a.cfg.Username, a.cfg.Password)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.KindNetwork, err, "download request failed")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, errors.New(errors.KindNotFound, "webdav file not found").WithDetail("path", path)
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, errors.New(errors.KindAccessDenied, "webdav authentication failed")
	default:
		return nil, errors.New(errors.KindRemoteUnavailable, fmt.Sprintf("unexpected webdav status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(errors.KindNetwork, err, "read download body")
	}
	return data, nil
}

// TestConnection issues a Depth:0 PROPFIND against the source root.
func (a *Adapter) TestConnection(ctx context.Context) adapters.ConnectionCheck {
	req, err := http.NewRequestWithContext(ctx, "PROPFIND", a.resourceURL(""), bytes.NewBufferString(propfindBody))
	if err != nil {
		return adapters.ConnectionCheck{OK: false, Category: "internal", Message: err.Error()}
	}
	req.Header.Set("Depth", "0")
	req.Header.Set("Content-Type", "application/xml; charset=utf-8")
	if a.cfg.Username != "" {
		req.SetBasicAuth(a.cfg.Username, a.cfg.Password)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return adapters.ConnectionCheck{OK: false, Category: "network", Message: err.Error()}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusMultiStatus || resp.StatusCode == http.StatusOK:
		return adapters.ConnectionCheck{OK: true, Category: "ok", Message: "connected"}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return adapters.ConnectionCheck{OK: false, Category: "auth", Message: "authentication rejected"}
	case resp.StatusCode == http.StatusNotFound:
		return adapters.ConnectionCheck{OK: false, Category: "not_found", Message: "root path not found"}
	default:
		return adapters.ConnectionCheck{OK: false, Category: "network", Message: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}
}
