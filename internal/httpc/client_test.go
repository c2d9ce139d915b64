package httpc

import (
	"context"
	"net/http"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func TestNewClientTimeout(t *testing.T) {
	c := NewClient(5 * time.Second)
	if c.Timeout != 5*time.Second {
		t.Errorf("expected timeout 5s, got %v", c.Timeout)
	}
	if _, ok := c.Transport.(*http.Transport); !ok {
		t.Errorf("expected *http.Transport, got %T", c.Transport)
	}
}

func TestWithClient(t *testing.T) {
	custom := NewClient(time.Second)
	ctx := WithClient(context.Background(), custom)

	got, ok := ctx.Value(oauth2.HTTPClient).(*http.Client)
	if !ok || got != custom {
		t.Fatalf("expected custom client in context, got %v", ctx.Value(oauth2.HTTPClient))
	}

	ctx = WithClient(context.Background(), nil)
	if got, _ := ctx.Value(oauth2.HTTPClient).(*http.Client); got != Client {
		t.Error("nil client should fall back to the shared Client")
	}
}
