package proxy

import (
	"github.com/valyala/fasthttp"
)

// resolveServiceID derives the target service id from the request: the
// X-Pluto-Service header wins when present (gateway handoffs always set it),
// otherwise the first path segment is used. Returns "" when neither names a
// service.
func resolveServiceID(ctx *fasthttp.RequestCtx) string {
	if v := ctx.Request.Header.Peek(HeaderService); len(v) > 0 {
		return string(v)
	}

	path := ctx.Path()
	if len(path) == 0 || path[0] != '/' {
		return ""
	}
	path = path[1:]
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			return string(path[:i])
		}
	}
	return string(path)
}
