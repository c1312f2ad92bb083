package oauthflow

import (
	"fmt"
	"net"
	"net/http"
	"sync"

	"cowork/pkg/logging"
)

// CallbackPath is the only path the ephemeral listener serves.
const CallbackPath = "/oauth/callback"

const callbackPage = `<!DOCTYPE html>
<html>
<head><title>Authorization complete</title></head>
<body>
<h1>Authorization complete</h1>
<p>You can close this window and return to the terminal.</p>
</body>
</html>
`

// CallbackListener is an ephemeral HTTP server bound to an OS-assigned
// loopback port for the lifetime of one authorization attempt. It captures
// the authorization code from the provider's redirect and holds it until
// consumed. The coordinator closes it on consume or TTL expiry, so a
// listener never outlives its challenge.
type CallbackListener struct {
	server *http.Server
	ln     net.Listener
	state  string

	mu       sync.Mutex
	captured string
	authErr  string

	closeOnce sync.Once
}

// NewCallbackListener binds 127.0.0.1:0 and starts serving. The state
// parameter of incoming redirects must match exactly or the request is
// rejected.
func NewCallbackListener(state string) (*CallbackListener, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to bind callback listener: %w", err)
	}

	l := &CallbackListener{ln: ln, state: state}

	mux := http.NewServeMux()
	mux.HandleFunc(CallbackPath, l.handleCallback)
	l.server = &http.Server{Handler: mux}

	go func() {
		if err := l.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			logging.Debug("OAuthFlow", "Callback listener stopped: %v", err)
		}
	}()

	logging.Debug("OAuthFlow", "Callback listener bound to %s", ln.Addr())
	return l, nil
}

// RedirectURI returns the full loopback redirect URI for this listener.
func (l *CallbackListener) RedirectURI() string {
	return fmt.Sprintf("http://%s%s", l.ln.Addr(), CallbackPath)
}

func (l *CallbackListener) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()

	if errCode := q.Get("error"); errCode != "" {
		l.mu.Lock()
		l.authErr = errCode
		if desc := q.Get("error_description"); desc != "" {
			l.authErr = errCode + ": " + desc
		}
		l.mu.Unlock()
		http.Error(w, "authorization failed: "+errCode, http.StatusBadRequest)
		return
	}

	if q.Get("state") != l.state {
		http.Error(w, "state mismatch", http.StatusBadRequest)
		return
	}

	code := q.Get("code")
	if code == "" {
		http.Error(w, "missing authorization code", http.StatusBadRequest)
		return
	}

	l.mu.Lock()
	if l.captured == "" {
		l.captured = code
	}
	l.mu.Unlock()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, callbackPage)
}

// CapturedCode returns the captured code, if one arrived.
func (l *CallbackListener) CapturedCode() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.captured, l.captured != ""
}

// AuthError returns the provider-reported error, if the redirect carried one.
func (l *CallbackListener) AuthError() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.authErr, l.authErr != ""
}

// Close shuts the listener down. Safe to call more than once.
func (l *CallbackListener) Close() {
	l.closeOnce.Do(func() {
		l.server.Close()
	})
}
