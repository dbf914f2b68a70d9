package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type echoBody struct {
	Method string         `json:"method"`
	Path   string         `json:"path"`
	Body   map[string]any `json:"body,omitempty"`
}

func newEchoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fail":
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte(`{"error":"document could not be opened"}`))
			return
		case "/plain":
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte("upstream down"))
			return
		case "/image":
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte{0x89, 'P', 'N', 'G'})
			return
		}
		resp := echoBody{Method: r.Method, Path: r.URL.Path}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&resp.Body)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_JSONMethods(t *testing.T) {
	srv := newEchoServer(t)
	c := NewClient(srv.URL)
	ctx := t.Context()

	var got echoBody
	if err := c.Get(ctx, "/api/documents", &got); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(echoBody{Method: "GET", Path: "/api/documents"}, got); diff != "" {
		t.Errorf("GET mismatch (-want +got):\n%s", diff)
	}

	got = echoBody{}
	if err := c.Post(ctx, "/api/documents/x/zoom", map[string]any{"scale": 1.5}, &got); err != nil {
		t.Fatal(err)
	}
	want := echoBody{Method: "POST", Path: "/api/documents/x/zoom", Body: map[string]any{"scale": 1.5}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("POST mismatch (-want +got):\n%s", diff)
	}

	got = echoBody{}
	if err := c.Put(ctx, "/api/settings/viewer.buffer_pages", map[string]any{"value": 3.0}, &got); err != nil {
		t.Fatal(err)
	}
	if got.Method != "PUT" || got.Body["value"] != 3.0 {
		t.Errorf("PUT echoed %+v", got)
	}

	if err := c.Delete(ctx, "/api/documents/x"); err != nil {
		t.Fatal(err)
	}
}

func TestClient_Errors(t *testing.T) {
	srv := newEchoServer(t)
	c := NewClient(srv.URL)

	err := c.Get(t.Context(), "/fail", nil)
	if err == nil || !strings.Contains(err.Error(), "(422): document could not be opened") {
		t.Errorf("err = %v", err)
	}
	err = c.Get(t.Context(), "/plain", nil)
	if err == nil || !strings.Contains(err.Error(), "upstream down") {
		t.Errorf("err = %v", err)
	}
	if _, _, err := c.GetRaw(t.Context(), "/fail"); err == nil {
		t.Error("GetRaw should surface server errors")
	}
}

func TestClient_GetRaw(t *testing.T) {
	srv := newEchoServer(t)
	body, contentType, err := NewClient(srv.URL).GetRaw(t.Context(), "/image")
	if err != nil {
		t.Fatal(err)
	}
	if contentType != "image/png" || !bytes.Equal(body, []byte{0x89, 'P', 'N', 'G'}) {
		t.Errorf("got %q %v", contentType, body)
	}
}

func TestOutputTo(t *testing.T) {
	data := map[string]any{"id": "abc", "pages": 3}

	var y bytes.Buffer
	if err := OutputTo(&y, OutputFormatYAML, data); err != nil {
		t.Fatal(err)
	}
	if y.String() != "id: abc\npages: 3\n" {
		t.Errorf("yaml = %q", y.String())
	}

	var j bytes.Buffer
	if err := OutputTo(&j, OutputFormatJSON, data); err != nil {
		t.Fatal(err)
	}
	if j.String() != "{\n  \"id\": \"abc\",\n  \"pages\": 3\n}\n" {
		t.Errorf("json = %q", j.String())
	}

	if err := OutputTo(&j, OutputFormat("toml"), data); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestParseOutputFormat(t *testing.T) {
	for _, s := range []string{"yaml", "json"} {
		if f, err := ParseOutputFormat(s); err != nil || string(f) != s {
			t.Errorf("ParseOutputFormat(%q) = %q, %v", s, f, err)
		}
	}
	if _, err := ParseOutputFormat("table"); err == nil {
		t.Error("expected error for unknown format")
	}
	if err := SetOutputFormat("xml"); err == nil {
		t.Error("SetOutputFormat should reject unknown formats")
	}
}

func TestOutput_Redirect(t *testing.T) {
	var buf bytes.Buffer
	restore := SetOutput(&buf)
	defer restore()
	if err := SetOutputFormat("json"); err != nil {
		t.Fatal(err)
	}
	defer SetOutputFormat("yaml")

	if err := Output(map[string]int{"pages": 2}); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "{\n  \"pages\": 2\n}\n" {
		t.Errorf("output = %q", buf.String())
	}
}
