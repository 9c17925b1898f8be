package api

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const defaultMaxBodyBytes = 64 << 10

// DecodeBodyMiddleware inflates gzip request bodies and caps every body at
// maxBytes after decompression. Invalid gzip payloads get a 400.
func DecodeBodyMiddleware(maxBytes int64) echo.MiddlewareFunc {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBodyBytes
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.Body == http.NoBody {
				return next(c)
			}
			body := req.Body
			var reader io.Reader = body
			if hasGzipEncoding(req.Header.Get(echo.HeaderContentEncoding)) {
				gr, err := gzip.NewReader(body)
				if err != nil {
					_ = body.Close()
					return echo.NewHTTPError(http.StatusBadRequest, "invalid gzip body")
				}
				reader = gr
				req.ContentLength = -1
				req.Header.Del(echo.HeaderContentEncoding)
				req.Header.Del(echo.HeaderContentLength)
			}
			req.Body = &limitedBody{Reader: io.LimitReader(reader, maxBytes), src: reader, body: body}
			return next(c)
		}
	}
}

func hasGzipEncoding(header string) bool {
	if header == "" {
		return false
	}
	for _, enc := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
			return true
		}
	}
	return false
}

type limitedBody struct {
	io.Reader
	src  io.Reader
	body io.Closer
}

func (l *limitedBody) Close() error {
	var err error
	if gr, ok := l.src.(*gzip.Reader); ok {
		err = gr.Close()
	}
	if l.body != nil {
		if cerr := l.body.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
