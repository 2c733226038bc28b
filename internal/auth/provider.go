package auth

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/gin-gonic/gin"
	"github.com/sleepsync/sleepsync/internal/logging"
)

// AuthorizationCodeProvider obtains an authorization code after the user has
// been sent to authURL.
type AuthorizationCodeProvider interface {
	Code(ctx context.Context, authURL, state string) (string, error)
}

// PromptProvider prints the authorization URL and asks the user to paste the
// URL they were redirected to.
type PromptProvider struct {
	out    io.Writer
	prompt func(title string) (string, error)
}

// NewPromptProvider creates a provider that writes instructions to out and
// reads the redirect with an interactive huh input.
func NewPromptProvider(out io.Writer) *PromptProvider {
	return &PromptProvider{out: out, prompt: promptForString}
}

func (p *PromptProvider) Code(ctx context.Context, authURL, state string) (string, error) {
	fmt.Fprintf(p.out, "Open this URL in your browser and approve access:\n\n  %s\n\n", authURL)
	fmt.Fprintln(p.out, "After approving you will be redirected. Copy the full URL from the address bar.")

	raw, err := p.prompt("Paste the redirect URL")
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return CodeFromRedirect(raw, state)
}

func promptForString(title string) (string, error) {
	var value string
	input := huh.NewInput().
		Title(title).
		Placeholder("https://...?code=...&state=...").
		Value(&value)

	if err := huh.NewForm(huh.NewGroup(input)).Run(); err != nil {
		return "", fmt.Errorf("prompt failed: %w", err)
	}
	return value, nil
}

// CallbackProvider serves the redirect URI locally and captures the code the
// provider sends to it.
type CallbackProvider struct {
	listen  string
	path    string
	timeout time.Duration
	out     io.Writer
	logger  *logging.Logger

	// ready, when set, receives the bound address once the server listens.
	ready func(addr string)
}

// NewCallbackProvider creates a receiver for redirectURI. listen overrides the
// bind address; when empty the redirect URI's host and port are used.
func NewCallbackProvider(redirectURI, listen string, timeout time.Duration, out io.Writer, logger *logging.Logger) (*CallbackProvider, error) {
	u, err := url.Parse(redirectURI)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("redirect URI %q is not an absolute URL", redirectURI)
	}
	if listen == "" {
		listen = u.Host
		if u.Port() == "" {
			listen = net.JoinHostPort(u.Hostname(), "80")
		}
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &CallbackProvider{listen: listen, path: path, timeout: timeout, out: out, logger: logger}, nil
}

type callbackResult struct {
	code string
	err  error
}

func (p *CallbackProvider) Code(ctx context.Context, authURL, state string) (string, error) {
	ln, err := net.Listen("tcp", p.listen)
	if err != nil {
		return "", fmt.Errorf("listen for OAuth callback on %s: %w", p.listen, err)
	}

	results := make(chan callbackResult, 1)
	srv := &http.Server{
		Handler:           p.router(state, results),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			p.logger.Error("oauth callback server stopped", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if p.ready != nil {
		p.ready(ln.Addr().String())
	}
	fmt.Fprintf(p.out, "Open this URL in your browser and approve access:\n\n  %s\n\nWaiting for the redirect on %s%s ...\n",
		authURL, ln.Addr().String(), p.path)

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case res := <-results:
		return res.code, res.err
	case <-timer.C:
		return "", fmt.Errorf("timed out after %s waiting for the OAuth redirect", p.timeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (p *CallbackProvider) router(state string, results chan<- callbackResult) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET(p.path, func(c *gin.Context) {
		code, err := codeFromQuery(c.Request.URL.Query(), state)
		select {
		case results <- callbackResult{code: code, err: err}:
		default:
		}
		if err != nil {
			c.String(http.StatusBadRequest, "Authorization failed: %s\nYou can close this window.", err.Error())
			return
		}
		c.String(http.StatusOK, "Authorization received. You can close this window and return to the terminal.")
	})

	router.NoRoute(func(c *gin.Context) {
		c.String(http.StatusNotFound, "expected redirect on %s", p.path)
	})
	return router
}

// NewCodeProvider picks the callback receiver when the redirect URI points at
// this machine and the paste prompt otherwise.
func NewCodeProvider(redirectURI, listen string, timeout time.Duration, out io.Writer, logger *logging.Logger) AuthorizationCodeProvider {
	u, err := url.Parse(redirectURI)
	if err == nil && (listen != "" || isLoopback(u.Hostname())) {
		if cb, err := NewCallbackProvider(redirectURI, listen, timeout, out, logger); err == nil {
			return cb
		}
	}
	return NewPromptProvider(out)
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
