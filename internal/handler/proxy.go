package handler

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/rs/zerolog/log"
)

// ProxyHandler forwards admitted requests to the downstream origin. Admission
// itself happens in the middleware chain before the request reaches here.
type ProxyHandler struct {
	proxy *httputil.ReverseProxy
}

func NewProxyHandler(downstream string) (*ProxyHandler, error) {
	u, err := url.Parse(downstream)
	if err != nil {
		return nil, fmt.Errorf("parse downstream url %q: %w", downstream, err)
	}

	rp := httputil.NewSingleHostReverseProxy(u)
	rp.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("downstream request failed")
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error": "bad gateway",
		})
	}
	return &ProxyHandler{proxy: rp}, nil
}

func (p *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.proxy.ServeHTTP(w, r)
}
