package httpwire

import (
	"bufio"
	"bytes"
	"strings"
	"testing"
)

func TestWriteBody_FullContent(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	body := "<h1>Index Page</h1>"
	n, err := WriteBody(w, 200, "text/html", strings.NewReader(body), int64(len(body)), nil, 0, false)
	if err != nil {
		t.Fatalf("WriteBody: %v", err)
	}
	if n != int64(len(body)) {
		t.Errorf("n=%d, want %d", n, len(body))
	}

	out := buf.String()
	if !strings.HasPrefix(out, "HTTP/1.1 200 OK\r\n") {
		t.Errorf("unexpected status line in %q", out)
	}
	if !strings.Contains(out, "Content-Length: 19\r\n") {
		t.Errorf("missing Content-Length in %q", out)
	}
	if !strings.Contains(out, "Connection: close\r\n") {
		t.Errorf("missing Connection: close in %q", out)
	}
	if !strings.HasSuffix(out, body) {
		t.Errorf("body not found at end of %q", out)
	}
}

func TestWriteBody_HEADSuppressesBody(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	body := "content"
	if _, err := WriteBody(w, 200, "text/plain", strings.NewReader(body), int64(len(body)), nil, 0, true); err != nil {
		t.Fatalf("WriteBody: %v", err)
	}
	if strings.Contains(buf.String(), body) {
		t.Error("expected HEAD response to suppress the body")
	}
}

func TestWriteBody_PartialContentHasContentRange(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	rr := &ResolvedRange{Start: 2, End: 4}
	if _, err := WriteBody(w, 206, "application/octet-stream", strings.NewReader("llo"), 3, rr, 10, false); err != nil {
		t.Fatalf("WriteBody: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "HTTP/1.1 206 Partial Content\r\n") {
		t.Errorf("unexpected status line in %q", out)
	}
	if !strings.Contains(out, "Content-Range: bytes 2-4/10\r\n") {
		t.Errorf("missing Content-Range in %q", out)
	}
}

func TestWriteError_BodyContainsStatusAndReason(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	if _, err := WriteError(w, 404, false); err != nil {
		t.Fatalf("WriteError: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "404") || !strings.Contains(out, "Not Found") {
		t.Errorf("expected 404/Not Found in body, got %q", out)
	}
}

func TestWriteError_HEADSuppressesBody(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	if _, err := WriteError(w, 500, true); err != nil {
		t.Fatalf("WriteError: %v", err)
	}
	out := buf.String()
	if strings.Contains(out, "<html>") {
		t.Error("expected HEAD error response to suppress the HTML body")
	}
}

func TestContentType_KnownExtension(t *testing.T) {
	if ct := ContentType("index.html"); !strings.Contains(ct, "text/html") {
		t.Errorf("ContentType(index.html)=%q", ct)
	}
}

func TestContentType_UnknownExtensionFallsBackToOctetStream(t *testing.T) {
	if ct := ContentType("file.unknownext12345"); ct != "application/octet-stream" {
		t.Errorf("ContentType=%q, want application/octet-stream", ct)
	}
}

func TestReasonPhrase_KnownAndUnknown(t *testing.T) {
	if ReasonPhrase(200) != "OK" {
		t.Errorf("ReasonPhrase(200)=%q", ReasonPhrase(200))
	}
	if ReasonPhrase(999) != "Unknown" {
		t.Errorf("ReasonPhrase(999)=%q, want Unknown", ReasonPhrase(999))
	}
}

func TestErrorBody_AllRequiredStatuses(t *testing.T) {
	for _, status := range []int{400, 403, 404, 405, 416, 500, 503} {
		body := ErrorBody(status)
		if !bytes.Contains(body, []byte(ReasonPhrase(status))) {
			t.Errorf("ErrorBody(%d) missing reason phrase %q", status, ReasonPhrase(status))
		}
	}
}
