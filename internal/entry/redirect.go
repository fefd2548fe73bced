package entry

import (
	"net"
	"net/http"

	"github.com/jsdraven/HashMiner_GoLang/internal/config"
)

// wantHTTPRedirect decides whether to run the HTTP->HTTPS redirect listener.
// An explicit HTTPS_REDIRECT wins; otherwise real certificates redirect and
// self-signed ones do not.
func wantHTTPRedirect(cfg *config.Config, selfSigned bool) bool {
	if cfg.HTTPSRedirectSet {
		return cfg.HTTPSRedirect
	}
	return !selfSigned
}

// redirectToHTTPSHandler sends clients to the TLS listener, keeping a
// non-default port from tlsAddr.
func redirectToHTTPSHandler(tlsAddr string) http.Handler {
	_, port, _ := net.SplitHostPort(tlsAddr)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		if port != "" && port != "443" {
			host = net.JoinHostPort(host, port)
		}
		http.Redirect(w, r, "https://"+host+r.URL.RequestURI(), http.StatusPermanentRedirect)
	})
}
