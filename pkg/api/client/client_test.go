package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestUploadFileSendsRawBodyWithToken(t *testing.T) {
	var gotPath, gotAuth, gotType, gotBody string
	var gotLength int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		gotLength = r.ContentLength
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"path":"/a b/index.html"}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithToken(" tok "))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := c.UploadFile(context.Background(), "d1", "/a b/index.html", strings.NewReader("hello"), 5, "text/html"); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if gotPath != "/deploys/d1/files/a%20b/index.html" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("unexpected auth %q", gotAuth)
	}
	if gotType != "text/html" || gotLength != 5 || gotBody != "hello" {
		t.Fatalf("unexpected upload %q %d %q", gotType, gotLength, gotBody)
	}
}

func TestAPIErrorCarriesMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"deploy is active"}`))
	}))
	defer srv.Close()

	c, _ := New(srv.URL)
	err := c.DeleteDeploy(context.Background(), "d1")
	var apiErr APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusConflict || apiErr.Message != "deploy is active" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestRollbackBody(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sites/s1/rollback" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{"id":"r1","deployId":"d0","status":"active"}`))
	}))
	defer srv.Close()

	c, _ := New(srv.URL)
	rel, err := c.Rollback(context.Background(), "s1", "d0", Destination{ProfileID: "p1"})
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if rel.ID != "r1" || rel.Status != "active" {
		t.Fatalf("unexpected release %+v", rel)
	}
	if body["toDeployId"] != "d0" || body["profileId"] != "p1" {
		t.Fatalf("unexpected body %v", body)
	}
	if _, ok := body["adapter"]; ok {
		t.Fatalf("empty adapter should be omitted: %v", body)
	}
}

func TestNewNormalisesBaseURL(t *testing.T) {
	c, err := New("localhost:4000/")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if c.baseURL != "http://localhost:4000" {
		t.Fatalf("unexpected base %q", c.baseURL)
	}
}
