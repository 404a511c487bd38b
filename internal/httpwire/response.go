package httpwire

import (
	"bufio"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"time"
)

// reasonPhrases covers every status code spec §6 requires the server
// to emit.
var reasonPhrases = map[int]string{
	200: "OK",
	206: "Partial Content",
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	416: "Range Not Satisfiable",
	500: "Internal Server Error",
	503: "Service Unavailable",
}

// ReasonPhrase returns the standard reason phrase for status, or
// "Unknown" for a code this server never emits.
func ReasonPhrase(status int) string {
	if p, ok := reasonPhrases[status]; ok {
		return p
	}
	return "Unknown"
}

// ErrorBody renders the fixed NGINX-style HTML error page spec §4.5
// requires for every non-2xx/206 response.
func ErrorBody(status int) []byte {
	reason := ReasonPhrase(status)
	return []byte(fmt.Sprintf(`<html>
<head><title>%d %s</title></head>
<body>
<center><h1>%d %s</h1></center>
<hr><center>concurrent-http-server</center>
</body>
</html>
`, status, reason, status, reason))
}

// ContentType looks up the MIME type for a path's extension. Spec §1
// explicitly places MIME tables out of scope as an external
// collaborator; stdlib's mime package is the documented exception to
// "no stdlib fallback without justification" since no MIME-table
// library exists anywhere in the example corpus either.
func ContentType(path string) string {
	ext := filepath.Ext(path)
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// WriteHeader writes a status line plus the common framing headers
// spec §4.5 requires on every response: Server, Date, Content-Type,
// Content-Length, Connection: close, and (when rng is non-nil)
// Content-Range.
func WriteHeader(w *bufio.Writer, status int, contentType string, contentLength int64, rng *ResolvedRange, totalSize int64) error {
	if _, err := fmt.Fprintf(w, "HTTP/1.1 %d %s\r\n", status, ReasonPhrase(status)); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "Server: concurrent-http-server\r\n"); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "Date: %s\r\n", time.Now().UTC().Format(http1Date)); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "Content-Type: %s\r\n", contentType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "Content-Length: %d\r\n", contentLength); err != nil {
		return err
	}
	if rng != nil {
		if _, err := fmt.Fprintf(w, "Content-Range: bytes %d-%d/%d\r\n", rng.Start, rng.End, totalSize); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "Connection: close\r\n\r\n"); err != nil {
		return err
	}
	return nil
}

// http1Date is the RFC 7231 / HTTP-date format, always rendered in GMT.
const http1Date = "Mon, 02 Jan 2006 15:04:05 GMT"

// WriteError writes a complete error response: headers plus the fixed
// HTML body, suppressing the body when suppressBody (HEAD) is set.
func WriteError(w *bufio.Writer, status int, suppressBody bool) (int64, error) {
	body := ErrorBody(status)
	if err := WriteHeader(w, status, "text/html", int64(len(body)), nil, 0); err != nil {
		return 0, err
	}
	if suppressBody {
		return 0, w.Flush()
	}
	n, err := w.Write(body)
	if err != nil {
		return int64(n), err
	}
	return int64(n), w.Flush()
}

// WriteBody writes contentType/contentLength headers (and a
// Content-Range if rng is set) followed by body, unless suppressBody
// (HEAD) is set, in which case only the headers are sent.
func WriteBody(w *bufio.Writer, status int, contentType string, body io.Reader, contentLength int64, rng *ResolvedRange, totalSize int64, suppressBody bool) (int64, error) {
	if err := WriteHeader(w, status, contentType, contentLength, rng, totalSize); err != nil {
		return 0, err
	}
	if suppressBody {
		return 0, w.Flush()
	}
	n, err := io.CopyN(w, body, contentLength)
	if err != nil {
		return n, err
	}
	return n, w.Flush()
}
