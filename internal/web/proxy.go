// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sessionkeeper Contributors

package web

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/scribeline/sessionkeeper/internal/transport"
)

// hopHeaders are not forwarded in either direction.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"Authorization",
	"Cookie",
}

// handleAPI forwards /api/<path> to <base>/<path> with the session's
// credential attached.
func (s *Server) handleAPI(c echo.Context) error {
	in := c.Request()
	ctx := in.Context()

	target := *in.URL
	target.Path = "/" + strings.TrimPrefix(strings.TrimPrefix(in.URL.Path, APIPrefix), "/")
	target.RawPath = ""
	target.Scheme, target.Host = "", ""

	out, err := http.NewRequestWithContext(ctx, in.Method, target.String(), in.Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	copyHeaders(out.Header, in.Header)
	out.ContentLength = in.ContentLength

	resp, err := s.api.Do(ctx, out)
	if err != nil {
		return writeAPIError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	copyHeaders(c.Response().Header(), resp.Header)
	c.Response().WriteHeader(resp.StatusCode)
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		s.logger.DebugContext(ctx, "api response copy interrupted", "path", target.Path, "error", err)
	}
	return nil
}

// writeAPIError answers with the backend's status and detail, in the
// backend's own error shape.
func writeAPIError(c echo.Context, err error) error {
	status := http.StatusBadGateway
	var te *transport.Error
	if errors.As(err, &te) && te.Status != 0 {
		status = te.Status
	} else if transport.KindOf(err) == transport.KindUnauthorized {
		status = http.StatusUnauthorized
	}
	return c.JSON(status, map[string]string{"detail": transport.MessageOf(err)})
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		dst[k] = append([]string(nil), vs...)
	}
	for _, h := range hopHeaders {
		dst.Del(h)
	}
}
