package webdav

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestConvertToRelativePath(t *testing.T) {
	t.Parallel()

	a, err := New(Config{ServerURL: "https://nas.example.com", Username: "testuser", ServerType: "nextcloud"})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		href string
		want string
	}{
		{"root", "/remote.php/dav/files/testuser/", "/"},
		{"nested", "/remote.php/dav/files/testuser/Documents/", "/Documents/"},
		{"deeply nested", "/remote.php/dav/files/testuser/FullerDocuments/NicoleDocuments/Projects/", "/FullerDocuments/NicoleDocuments/Projects/"},
		{"url-encoded spaces", "/remote.php/dav/files/testuser/Documents/Melanie%20Martinez/", "/Documents/Melanie Martinez/"},
		{"mismatched prefix returned as-is", "/some/other/path/Documents/", "/some/other/path/Documents/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.convertToRelativePath(tt.href); got != tt.want {
				t.Errorf("convertToRelativePath(%q) = %q, want %q", tt.href, got, tt.want)
			}
		})
	}
}

func TestResourceURLDoesNotDoubleConstruct(t *testing.T) {
	t.Parallel()

	a, err := New(Config{ServerURL: "https://nas.example.com", Username: "testuser", ServerType: "nextcloud"})
	if err != nil {
		t.Fatal(err)
	}

	got := a.resourceURL("/FullerDocuments/NicoleDocuments/")
	want := "https://nas.example.com/remote.php/dav/files/testuser/FullerDocuments/NicoleDocuments/"
	if got != want {
		t.Errorf("resourceURL = %q, want %q", got, want)
	}
}

func TestList_TolerantXMLParsing(t *testing.T) {
	t.Parallel()

	const multistatusBody = `<?xml version="1.0" encoding="utf-8"?>
<D:multistatus xmlns:D="DAV:">
  <D:response>
    <D:href>/Documents/</D:href>
    <D:propstat>
      <D:prop>
        <D:resourcetype><D:collection/></D:resourcetype>
      </D:prop>
      <D:status>HTTP/1.1 200 OK</D:status>
    </D:propstat>
  </D:response>
  <D:response>
    <D:href>/Documents/report.pdf</D:href>
    <D:propstat>
      <D:prop>
        <D:getetag>W/"abc123"</D:getetag>
        <D:getcontentlength>4096</D:getcontentlength>
        <D:resourcetype/>
      </D:prop>
      <D:status>HTTP/1.1 200 OK</D:status>
    </D:propstat>
  </D:response>
  <D:response>
    <D:href>/Documents/noetag.txt</D:href>
    <D:propstat>
      <D:prop>
        <D:resourcetype/>
      </D:prop>
      <D:status>HTTP/1.1 200 OK</D:status>
    </D:propstat>
  </D:response>
</D:multistatus>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusMultiStatus)
		_, _ = w.Write([]byte(multistatusBody))
	}))
	defer srv.Close()

	a, err := New(Config{ServerURL: srv.URL, ServerType: "generic"})
	if err != nil {
		t.Fatal(err)
	}

	entries, err := a.List(context.Background(), "/Documents")
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	if len(entries) != 2 {
		t.Fatalf("expected 2 entries (self excluded), got %d", len(entries))
	}

	byName := map[string]bool{}
	for _, e := range entries {
		byName[e.Name] = true
	}
	if !byName["report.pdf"] || !byName["noetag.txt"] {
		t.Errorf("expected report.pdf and noetag.txt, got %+v", entries)
	}
}

func TestTestConnection_AuthFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	a, err := New(Config{ServerURL: srv.URL, ServerType: "generic"})
	if err != nil {
		t.Fatal(err)
	}

	check := a.TestConnection(context.Background())
	if check.OK {
		t.Error("expected connection check to fail")
	}
	if check.Category != "auth" {
		t.Errorf("expected category auth, got %q", check.Category)
	}
}
