package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/docs/v1"
	"google.golang.org/api/option"

	"github.com/teslashibe/go-stockroom/internal/httpc"
)

var (
	ErrMissingCredentials = errors.New("report: docs client id and secret are required")
	ErrNotAuthorized      = errors.New("report: not authorized with Google, run the consent flow first")
)

// Scopes requested for export.
var Scopes = []string{
	docs.DocumentsScope,
	docs.DriveFileScope,
}

// DocsConfig configures a DocsExporter.
type DocsConfig struct {
	ClientID     string
	ClientSecret string

	// TokenPath caches the OAuth token. Default: ~/.stockroom/google_token.json.
	TokenPath string

	// Endpoint overrides the Docs API base URL.
	Endpoint string

	Logger *slog.Logger
}

// DocsExporter creates Google Docs from rendered reports.
type DocsExporter struct {
	config    *oauth2.Config
	tokenPath string
	endpoint  string
	logger    *slog.Logger

	mu    sync.RWMutex
	token *oauth2.Token
}

// NewDocsExporter loads any cached token. It does not contact Google.
func NewDocsExporter(cfg DocsConfig) (*DocsExporter, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.TokenPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("report: locate home directory: %w", err)
		}
		cfg.TokenPath = filepath.Join(home, ".stockroom", "google_token.json")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	e := &DocsExporter{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       Scopes,
			Endpoint:     google.Endpoint,
		},
		tokenPath: cfg.TokenPath,
		endpoint:  cfg.Endpoint,
		logger:    cfg.Logger,
	}
	if err := e.loadToken(); err != nil && !errors.Is(err, os.ErrNotExist) {
		e.logger.Warn("ignoring unreadable docs token", "path", e.tokenPath, "error", err)
	}
	return e, nil
}

// Authorized reports whether a token is available. An expired token with a
// refresh token still counts.
func (e *DocsExporter) Authorized() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.token != nil && (e.token.Valid() || e.token.RefreshToken != "")
}

// AuthCodeURL returns the consent URL for redirectURL.
func (e *DocsExporter) AuthCodeURL(redirectURL, state string) string {
	cfg := *e.config
	cfg.RedirectURL = redirectURL
	return cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a token and caches it.
func (e *DocsExporter) Exchange(ctx context.Context, redirectURL, code string) error {
	cfg := *e.config
	cfg.RedirectURL = redirectURL
	token, err := cfg.Exchange(httpc.WithClient(ctx, nil), code)
	if err != nil {
		return fmt.Errorf("report: exchange authorization code: %w", err)
	}

	e.mu.Lock()
	e.token = token
	e.mu.Unlock()

	if err := e.saveToken(); err != nil {
		e.logger.Warn("failed to cache docs token", "path", e.tokenPath, "error", err)
	}
	return nil
}

// Authorize runs the installed-app consent flow: it listens on a loopback
// port, hands the consent URL to open, and exchanges the code delivered to
// the callback.
func (e *DocsExporter) Authorize(ctx context.Context, open func(url string) error) error {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("report: listen for oauth callback: %w", err)
	}
	redirect := fmt.Sprintf("http://%s/callback", ln.Addr())
	state := fmt.Sprintf("stockroom-%d", os.Getpid())

	codes := make(chan string, 1)
	errs := make(chan error, 1)
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("state") != state:
			http.Error(w, "state mismatch", http.StatusBadRequest)
		case q.Get("error") != "":
			http.Error(w, "authorization denied", http.StatusForbidden)
			select {
			case errs <- fmt.Errorf("report: authorization denied: %s", q.Get("error")):
			default:
			}
		case q.Get("code") == "":
			http.Error(w, "missing authorization code", http.StatusBadRequest)
		default:
			fmt.Fprintln(w, "Stockroom is connected to Google Docs. You can close this window.")
			select {
			case codes <- q.Get("code"):
			default:
			}
		}
	})}
	go srv.Serve(ln)
	defer srv.Close()

	if err := open(e.AuthCodeURL(redirect, state)); err != nil {
		return err
	}

	select {
	case code := <-codes:
		return e.Exchange(ctx, redirect, code)
	case err := <-errs:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Export creates a document titled title containing content and returns its
// id.
func (e *DocsExporter) Export(ctx context.Context, title, content string) (string, error) {
	svc, err := e.service(ctx)
	if err != nil {
		return "", err
	}

	doc, err := svc.Documents.Create(&docs.Document{Title: title}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("report: create document: %w", err)
	}
	if content == "" {
		return doc.DocumentId, nil
	}

	_, err = svc.Documents.BatchUpdate(doc.DocumentId, &docs.BatchUpdateDocumentRequest{
		Requests: []*docs.Request{{
			InsertText: &docs.InsertTextRequest{
				Location: &docs.Location{Index: 1},
				Text:     content,
			},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return doc.DocumentId, fmt.Errorf("report: created document %s but failed to add content: %w", doc.DocumentId, err)
	}
	e.logger.Info("report exported", "document_id", doc.DocumentId, "content_bytes", len(content))
	return doc.DocumentId, nil
}

// DocURL returns the edit URL for a document.
func DocURL(docID string) string {
	return fmt.Sprintf("https://docs.google.com/document/d/%s/edit", docID)
}

func (e *DocsExporter) service(ctx context.Context) (*docs.Service, error) {
	e.mu.RLock()
	token := e.token
	e.mu.RUnlock()
	if token == nil {
		return nil, ErrNotAuthorized
	}

	opts := []option.ClientOption{option.WithHTTPClient(e.config.Client(httpc.WithClient(ctx, nil), token))}
	if e.endpoint != "" {
		opts = append(opts, option.WithEndpoint(e.endpoint))
	}
	svc, err := docs.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("report: create docs service: %w", err)
	}
	return svc, nil
}

func (e *DocsExporter) loadToken() error {
	data, err := os.ReadFile(e.tokenPath)
	if err != nil {
		return err
	}
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return fmt.Errorf("report: decode token: %w", err)
	}

	e.mu.Lock()
	e.token = &token
	e.mu.Unlock()
	return nil
}

func (e *DocsExporter) saveToken() error {
	e.mu.RLock()
	token := e.token
	e.mu.RUnlock()
	if token == nil {
		return errors.New("report: no token to save")
	}

	if err := os.MkdirAll(filepath.Dir(e.tokenPath), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(e.tokenPath, data, 0o600)
}
