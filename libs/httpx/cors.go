package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CORSPolicy lists what browser origins may call the API. AllowedOrigins entries match
// case-insensitively; "*" allows any origin.
type CORSPolicy struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

type corsRules struct {
	anyOrigin   bool
	origins     map[string]bool
	methodSet   map[string]bool
	methods     string
	headers     string
	exposed     string
	credentials bool
	maxAge      string
}

func (p CORSPolicy) compile() corsRules {
	c := corsRules{
		origins:     map[string]bool{},
		methodSet:   map[string]bool{},
		methods:     strings.Join(cleanList(p.AllowedMethods), ", "),
		headers:     strings.Join(cleanList(p.AllowedHeaders), ", "),
		exposed:     strings.Join(cleanList(p.ExposedHeaders), ", "),
		credentials: p.AllowCredentials,
	}
	for _, o := range cleanList(p.AllowedOrigins) {
		if o == "*" {
			c.anyOrigin = true
			continue
		}
		c.origins[strings.ToLower(strings.TrimSuffix(o, "/"))] = true
	}
	for _, m := range cleanList(p.AllowedMethods) {
		c.methodSet[strings.ToUpper(m)] = true
	}
	if secs := int(p.MaxAge.Seconds()); secs > 0 {
		c.maxAge = strconv.Itoa(secs)
	}
	return c
}

// allowOrigin returns the Access-Control-Allow-Origin value for origin, if any. With
// credentials a wildcard must echo the origin.
func (c corsRules) allowOrigin(origin string) (string, bool) {
	if c.origins[strings.ToLower(origin)] {
		return origin, true
	}
	if !c.anyOrigin {
		return "", false
	}
	if c.credentials {
		return origin, true
	}
	return "*", true
}

// WithCORS answers preflight requests and decorates responses for allowed origins. With no
// allowed origins it is a no-op. A preflight for a method outside AllowedMethods gets 204
// without allow headers, which the browser treats as a refusal.
func WithCORS(p CORSPolicy) Middleware {
	c := p.compile()
	if !c.anyOrigin && len(c.origins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")
			origin := r.Header.Get("Origin")
			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
			if preflight {
				h.Add("Vary", "Access-Control-Request-Method")
				h.Add("Vary", "Access-Control-Request-Headers")
			}

			allowed, ok := c.allowOrigin(origin)
			if origin == "" || !ok {
				next.ServeHTTP(w, r)
				return
			}

			if preflight {
				method := strings.ToUpper(r.Header.Get("Access-Control-Request-Method"))
				if len(c.methodSet) > 0 && !c.methodSet[method] {
					w.WriteHeader(http.StatusNoContent)
					return
				}
				h.Set("Access-Control-Allow-Origin", allowed)
				c.setCredentials(h)
				if c.methods != "" {
					h.Set("Access-Control-Allow-Methods", c.methods)
				}
				if c.headers != "" {
					h.Set("Access-Control-Allow-Headers", c.headers)
				}
				if c.maxAge != "" {
					h.Set("Access-Control-Max-Age", c.maxAge)
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			h.Set("Access-Control-Allow-Origin", allowed)
			c.setCredentials(h)
			if c.exposed != "" {
				h.Set("Access-Control-Expose-Headers", c.exposed)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (c corsRules) setCredentials(h http.Header) {
	if c.credentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
}

func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
