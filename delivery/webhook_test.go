package delivery

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWebhookDeliverSignsAndPosts(t *testing.T) {
	t.Parallel()

	secret := []byte("webhook-secret")
	payload := []byte(`{"document":"doc-1"}`)

	var gotSig, gotSubject, gotMeta string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != string(payload) {
			t.Errorf("got body %q, want %q", body, payload)
		}
		gotSig = r.Header.Get("X-Docex-Signature")
		gotSubject = r.Header.Get("X-Docex-Subject")
		gotMeta = r.Header.Get("X-Docex-Meta-Source")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	conn := NewWebhookConnector(srv.URL, WithSigningSecret(secret))
	res, err := conn.Deliver(context.Background(), "doc-1", payload, map[string]string{"Source": "test"})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if res.ResponseCode != http.StatusOK {
		t.Fatalf("got response code %d, want 200", res.ResponseCode)
	}
	if gotSubject != "doc-1" {
		t.Fatalf("got subject header %q, want doc-1", gotSubject)
	}
	if gotMeta != "test" {
		t.Fatalf("got meta header %q, want test", gotMeta)
	}
	if want := Sign(secret, payload); gotSig != want {
		t.Fatalf("got signature %q, want %q", gotSig, want)
	}
}

func TestWebhookDeliverNon2xxFails(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream broken"))
	}))
	defer srv.Close()

	conn := NewWebhookConnector(srv.URL)
	res, err := conn.Deliver(context.Background(), "doc-1", []byte("payload"), nil)
	if err == nil {
		t.Fatal("expected error for 502 response")
	}
	if res == nil || res.ResponseCode != http.StatusBadGateway {
		t.Fatalf("got %+v, want response code 502", res)
	}
	if res.ResponseData != "upstream broken" {
		t.Fatalf("got response data %q, want body excerpt", res.ResponseData)
	}
}
