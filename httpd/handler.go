package httpd

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/evkuzin/weatherlogger/config"
	"github.com/evkuzin/weatherlogger/metrics"
	"github.com/sirupsen/logrus"
)

const (
	// MaxRequestSize bounds how much of a request is read; only the request
	// line is used.
	MaxRequestSize = 1024
	// ChunkSize bounds the memory used to stream a body.
	ChunkSize = 1024

	DefaultDocument = "index.html"

	ContentHTML  = "text/html"
	ContentCSV   = "text/csv"
	ContentPlain = "text/plain"

	statusOK       = "HTTP/1.1 200 OK"
	statusNotFound = "HTTP/1.0 404 Not Found"
)

var errBadRequest = errors.New("malformed request line")

// Request is what is kept of an incoming request.
type Request struct {
	Method string
	Path   string
}

// Document is content generated on request instead of read from disk. Files
// that change while being sent, such as the rotating logs, are served as
// documents so the body matches Content-Length. A Render error wrapping
// fs.ErrNotExist is answered with 404 like a missing file.
type Document struct {
	ContentType string
	Render      func() ([]byte, error)
}

// Handler answers one request per connection from files under Root.
type Handler struct {
	Root            string
	DefaultDocument string
	Sample          config.Sample
	Documents       map[string]Document
	Metrics         *metrics.Metrics
}

// ReadRequest reads at most MaxRequestSize bytes and parses the request line.
func ReadRequest(r io.Reader) (Request, error) {
	buf := make([]byte, MaxRequestSize)
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if bytes.IndexByte(buf[:n], '\n') >= 0 {
			break
		}
		if err != nil {
			if n > 0 && errors.Is(err, io.EOF) {
				break
			}
			return Request{}, err
		}
	}
	return ParseRequestLine(string(buf[:n]))
}

// ParseRequestLine takes "METHOD /path PROTO" from the first line of raw.
// A missing path is returned empty.
func ParseRequestLine(raw string) (Request, error) {
	line := raw
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	fields := strings.Split(strings.TrimRight(line, "\r"), " ")
	if fields[0] == "" {
		return Request{}, errBadRequest
	}
	req := Request{Method: fields[0]}
	if len(fields) > 1 {
		req.Path = fields[1]
	}
	return req, nil
}

// Resolve maps a request path to a file name relative to the document root.
// The empty path is the default document; ok is false for paths that would
// leave the root.
func (h *Handler) Resolve(p string) (name string, ok bool) {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	p = strings.TrimLeft(p, "/")
	if p == "" {
		if h.DefaultDocument != "" {
			return h.DefaultDocument, true
		}
		return DefaultDocument, true
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return "", false
		}
	}
	return path.Clean(p), true
}

// ContentType picks one of the three served types from the file suffix.
func ContentType(name string) string {
	switch {
	case strings.HasSuffix(name, "html"), strings.HasSuffix(name, ".htm"):
		return ContentHTML
	case strings.HasSuffix(name, "dat"), strings.HasSuffix(name, ".csv"):
		return ContentCSV
	}
	return ContentPlain
}

// Serve handles one request on conn and returns the status sent. Closing
// the connection is the caller's job.
func (h *Handler) Serve(conn io.ReadWriter, log *logrus.Entry) int {
	req, err := ReadRequest(conn)
	if err != nil {
		log.Debugf("cannot read request: %s", err)
		return h.notFound(conn, log)
	}
	log = log.WithFields(logrus.Fields{"method": req.Method, "path": req.Path})
	if req.Method != "GET" && req.Method != "HEAD" {
		return h.notFound(conn, log)
	}
	name, ok := h.Resolve(req.Path)
	if !ok {
		return h.notFound(conn, log)
	}
	withBody := req.Method == "GET"

	if doc, ok := h.Documents[name]; ok {
		body, err := doc.Render()
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				log.Warnf("cannot render %s: %s", name, err)
			}
			return h.notFound(conn, log)
		}
		return h.ok(conn, log, doc.ContentType, int64(len(body)), bytes.NewReader(body), withBody)
	}

	f, err := os.Open(filepath.Join(h.Root, filepath.FromSlash(name)))
	if err != nil {
		return h.notFound(conn, log)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		return h.notFound(conn, log)
	}
	// a file growing after Stat is cut at the advertised length
	body := io.LimitReader(f, info.Size())
	return h.ok(conn, log, ContentType(name), info.Size(), body, withBody)
}

func (h *Handler) ok(conn io.Writer, log *logrus.Entry, contentType string, length int64, body io.Reader, withBody bool) int {
	h.Metrics.Response(200)
	w := bufio.NewWriterSize(conn, ChunkSize)
	fmt.Fprintf(w, "%s\r\n", statusOK)
	fmt.Fprintf(w, "Content-Type: %s\r\n", contentType)
	fmt.Fprintf(w, "Content-Length: %d\r\n", length)
	if contentType == ContentCSV {
		fmt.Fprintf(w, "X-sampleTime: %s\r\n", strconv.FormatInt(h.Sample.Minutes(), 10))
	}
	w.WriteString("\r\n")

	var sent int64
	if withBody {
		chunk := make([]byte, ChunkSize)
		for {
			n, err := body.Read(chunk)
			if n > 0 {
				if _, werr := w.Write(chunk[:n]); werr != nil {
					log.Debugf("client went away: %s", werr)
					return 200
				}
				sent += int64(n)
			}
			if err == io.EOF {
				break
			}
			if err != nil {
				log.Warnf("read failed after %d bytes: %s", sent, err)
				break
			}
		}
	}
	if err := w.Flush(); err != nil {
		log.Debugf("client went away: %s", err)
		return 200
	}
	log.WithField("bytes", sent).Debug("served")
	return 200
}

func (h *Handler) notFound(conn io.Writer, log *logrus.Entry) int {
	h.Metrics.Response(404)
	if _, err := io.WriteString(conn, statusNotFound+"\r\n\r\n"); err != nil {
		log.Debugf("client went away: %s", err)
	}
	log.Debug("not found")
	return 404
}
