package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/civicsetu/civicauth"
)

func TestSaveProfilePostsToBackend(t *testing.T) {
	var got civicauth.Profile
	var path, contentType string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		contentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode failed: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := NewProfileStore(srv.URL, nil)
	profile := civicauth.Profile{
		Sub:       "u1",
		Email:     "asha@example.com",
		FirstName: "Asha",
		LastName:  "Verma",
		Mobile:    "+911234567890",
		City:      "Pune",
		Address:   "12 MG Road",
		Role:      civicauth.RoleCitizen,
	}
	if err := store.SaveProfile(context.Background(), profile); err != nil {
		t.Fatalf("SaveProfile failed: %v", err)
	}

	if path != "/api/save-user" {
		t.Fatalf("posted to %q, want /api/save-user", path)
	}
	if contentType != "application/json" {
		t.Fatalf("content type = %q", contentType)
	}
	if got != profile {
		t.Fatalf("backend saw %+v, want %+v", got, profile)
	}
}

func TestSaveProfileSurfacesUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"duplicate mobile"}`))
	}))
	defer srv.Close()

	store := NewProfileStore(srv.URL, nil)
	err := store.SaveProfile(context.Background(), civicauth.Profile{Sub: "u1"})
	if err == nil {
		t.Fatal("expected error for 400 reply")
	}
	if !strings.Contains(err.Error(), "duplicate mobile") {
		t.Fatalf("err = %v, want the upstream error text", err)
	}
}

func TestSaveProfileFallsBackToStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	store := NewProfileStore(srv.URL, nil)
	err := store.SaveProfile(context.Background(), civicauth.Profile{Sub: "u1"})
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("err = %v, want the HTTP status", err)
	}
}

func TestSendPostsChannelAndCode(t *testing.T) {
	var path string
	var got map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode failed: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := NewCodeSender(srv.URL, nil)
	if err := sender.Send(context.Background(), civicauth.ChannelWhatsApp, "+911234567890", "123456"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if path != "/send-otp" {
		t.Fatalf("posted to %q, want /send-otp", path)
	}
	want := map[string]string{"type": "whatsapp", "contact": "+911234567890", "otp": "123456"}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("field %q = %q, want %q", k, got[k], v)
		}
	}
}

func TestSendSurfacesUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"whatsapp session expired"}`))
	}))
	defer srv.Close()

	sender := NewCodeSender(srv.URL, nil)
	err := sender.Send(context.Background(), civicauth.ChannelWhatsApp, "+911234567890", "123456")
	if err == nil || !strings.Contains(err.Error(), "whatsapp session expired") {
		t.Fatalf("err = %v, want the upstream error text", err)
	}
}

func TestSendHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sender := NewCodeSender(srv.URL, nil)
	if err := sender.Send(ctx, civicauth.ChannelEmail, "asha@example.com", "123456"); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
