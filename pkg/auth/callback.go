package auth

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	errs "github.com/tommilligan/magpie-twitter-bot/pkg/errors"
	"github.com/tommilligan/magpie-twitter-bot/pkg/logger"
)

// CallbackPath is the path the provider redirects back to.
const CallbackPath = "/oauth2/callback"

// callbackResult is what the provider hands back on the redirect: either an
// authorization code with the echoed state, or an error description.
type callbackResult struct {
	code             string
	state            string
	errorCode        string
	errorDescription string
}

const confirmationPage = `<html>
    <body>
        <div style="
            width: 100%%;
            top: 50%%;
            margin-top: 100px;
            text-align: center;
            font-family: sans-serif;
        ">
            <h1>%s</h1>
            <h2>%s</h2>
        </div>
    </body>
</html>`

// callbackServer is a one-shot HTTP listener bound to loopback. It serves
// exactly one callback request and is then shut down; a second authorization
// attempt constructs a fresh server.
type callbackServer struct {
	listener net.Listener
	server   *http.Server
	results  chan callbackResult
	once     sync.Once
	logger   logger.Logger
}

// newCallbackServer binds the loopback listener. Port 0 picks a free port,
// which tests rely on; production uses the configured fixed port.
func newCallbackServer(port int, log logger.Logger) (*callbackServer, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, errs.New(errs.ErrorTypeConfig, "failed to bind callback listener on port %d: %v", port, err)
	}

	cs := &callbackServer{
		listener: listener,
		results:  make(chan callbackResult, 1),
		logger:   log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "waiting for callback")
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	})
	mux.HandleFunc(CallbackPath, cs.handleCallback)

	cs.server = &http.Server{Handler: mux}

	go func() {
		if err := cs.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			cs.logger.WithError(err).Error("callback server terminated unexpectedly")
		}
	}()

	cs.logger.DebugWithFields("listening for OAuth2 callback", map[string]interface{}{
		"addr": listener.Addr().String(),
	})

	return cs, nil
}

// RedirectURI returns the redirect URI the provider must be configured with.
func (cs *callbackServer) RedirectURI() string {
	return fmt.Sprintf("http://%s%s", cs.listener.Addr().String(), CallbackPath)
}

func (cs *callbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	result := callbackResult{
		code:             query.Get("code"),
		state:            query.Get("state"),
		errorCode:        query.Get("error"),
		errorDescription: query.Get("error_description"),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	switch {
	case result.errorCode != "":
		subheader := result.errorCode
		if result.errorDescription != "" {
			subheader = fmt.Sprintf("%s: %s", result.errorCode, result.errorDescription)
		}
		fmt.Fprintf(w, confirmationPage, "Login failed.", subheader)
	case result.code == "" || result.state == "":
		fmt.Fprintf(w, confirmationPage, "Login failed.", "Received invalid OAuth2 response.")
	default:
		fmt.Fprintf(w, confirmationPage, "You are now logged in.", "Please close the window.")
	}

	// Only the first callback counts; the server is shutting down and will
	// never serve a second one.
	cs.once.Do(func() {
		cs.results <- result
	})
}

// Wait blocks until the first callback arrives, the timeout elapses, or ctx
// is cancelled.
func (cs *callbackServer) Wait(ctx context.Context, timeout time.Duration) (callbackResult, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-cs.results:
		return result, nil
	case <-timer.C:
		return callbackResult{}, errs.NewAuth(errs.AuthReasonTimeout, "no callback received within %s", timeout)
	case <-ctx.Done():
		return callbackResult{}, ctx.Err()
	}
}

// Shutdown stops the listener. Safe to call after Wait regardless of outcome.
func (cs *callbackServer) Shutdown(ctx context.Context) error {
	return cs.server.Shutdown(ctx)
}
