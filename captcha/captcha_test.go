package captcha

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func TestVerifySuccess(t *testing.T) {
	var got url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		got = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	v := NewVerifier(server.URL, "test-secret", time.Second)
	ok, err := v.Verify(context.Background(), "token-123", "203.0.113.10")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected successful verification")
	}

	if got.Get("secret") != "test-secret" ||
		got.Get("response") != "token-123" ||
		got.Get("remoteip") != "203.0.113.10" {
		t.Errorf("unexpected form payload: %v", got)
	}
}

func TestVerifyFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":false,"error-codes":["invalid-input-response"]}`))
	}))
	defer server.Close()

	v := NewVerifier(server.URL, "test-secret", time.Second)
	ok, err := v.Verify(context.Background(), "bad-token", "203.0.113.10")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected failed verification")
	}
}

func TestVerifyNotConfigured(t *testing.T) {
	v := NewVerifier("http://irrelevant.invalid", "", time.Second)
	_, err := v.Verify(context.Background(), "token", "203.0.113.10")
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
}

func TestVerifyTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse connections

	v := NewVerifier(server.URL, "test-secret", time.Second)
	ok, err := v.Verify(context.Background(), "token", "203.0.113.10")
	if err == nil {
		t.Fatal("expected transport error")
	}
	if ok {
		t.Fatal("transport error must not verify")
	}
}

func TestVerifyTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer func() {
		close(release)
		server.Close()
	}()

	v := NewVerifier(server.URL, "test-secret", 50*time.Millisecond)
	_, err := v.Verify(context.Background(), "token", "203.0.113.10")
	if err == nil {
		t.Fatal("expected timeout error")
	}
}
