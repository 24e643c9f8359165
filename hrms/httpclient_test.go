package hrms

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testClient(t *testing.T, handler http.HandlerFunc) *apiClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return newAPIClient(Config{
		Source:         SourceWorkday,
		OrganizationID: "org-1",
		TenantURL:      server.URL,
		Credentials:    Credentials{Token: "tok"},
	})
}

func TestGetJSONStatusClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(t *testing.T, err error)
	}{
		{
			name:   "unauthorized",
			status: http.StatusUnauthorized,
			check: func(t *testing.T, err error) {
				if !IsAuthError(err) {
					t.Fatalf("want auth error, got %v", err)
				}
			},
		},
		{
			name:   "forbidden",
			status: http.StatusForbidden,
			check: func(t *testing.T, err error) {
				if !IsPermissionError(err) {
					t.Fatalf("want permission error, got %v", err)
				}
			},
		},
		{
			name:   "server error",
			status: http.StatusBadGateway,
			check: func(t *testing.T, err error) {
				if !IsNetworkError(err) {
					t.Fatalf("want network error, got %v", err)
				}
				if !Retryable(err) {
					t.Fatal("server errors should be retryable")
				}
			},
		},
		{
			name:   "unexpected status",
			status: http.StatusTeapot,
			check: func(t *testing.T, err error) {
				if err == nil {
					t.Fatal("want error for unexpected status")
				}
				if IsAuthError(err) || IsNetworkError(err) || Retryable(err) {
					t.Fatalf("unexpected status should not classify: %v", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			err := client.getJSON(context.Background(), "/events", nil, nil)
			tt.check(t, err)
		})
	}
}

func TestGetJSONRateLimitCarriesRetryAfter(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	err := client.getJSON(context.Background(), "/events", nil, nil)
	wait, ok := IsRateLimitError(err)
	if !ok {
		t.Fatalf("want rate limit error, got %v", err)
	}
	if wait != 2*time.Minute {
		t.Fatalf("retry after = %s, want 2m", wait)
	}
	if !Retryable(err) {
		t.Fatal("rate limit errors should be retryable")
	}
}

func TestGetJSONAttachesAuth(t *testing.T) {
	var gotAuth string
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	})

	if err := client.getJSON(context.Background(), "/events", nil, nil); err != nil {
		t.Fatalf("getJSON: %v", err)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("Authorization = %q, want bearer token", gotAuth)
	}
}

func TestGetJSONDecodesBody(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"events":[{"id":"e1"}],"hasMore":true,"nextCursor":"c2"}`))
	})

	var page workdayEventsPage
	if err := client.getJSON(context.Background(), "/events", nil, &page); err != nil {
		t.Fatalf("getJSON: %v", err)
	}
	if len(page.Events) != 1 || !page.HasMore || page.NextCursor != "c2" {
		t.Fatalf("decoded page = %+v", page)
	}
}

func TestRetryAfterParsing(t *testing.T) {
	newResp := func(value string) *http.Response {
		header := http.Header{}
		if value != "" {
			header.Set("Retry-After", value)
		}
		return &http.Response{Header: header}
	}

	if got := retryAfter(newResp("30")); got != 30*time.Second {
		t.Errorf("seconds form = %s, want 30s", got)
	}
	if got := retryAfter(newResp("")); got != time.Minute {
		t.Errorf("absent header = %s, want fallback 1m", got)
	}
	if got := retryAfter(newResp("garbage")); got != time.Minute {
		t.Errorf("garbled header = %s, want fallback 1m", got)
	}

	future := time.Now().Add(90 * time.Second).UTC().Format(http.TimeFormat)
	if got := retryAfter(newResp(future)); got < 80*time.Second || got > 90*time.Second {
		t.Errorf("http date form = %s, want ~90s", got)
	}
}

func TestBambooAuthUsesKeyAsBasicUsername(t *testing.T) {
	var user, pass string
	var ok bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok = r.BasicAuth()
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := newAPIClient(Config{
		Source:         SourceBambooHR,
		OrganizationID: "org-1",
		TenantURL:      server.URL,
		Credentials:    Credentials{Token: "api-key-123"},
	})
	if err := client.getJSON(context.Background(), "/v1/meta/fields", nil, nil); err != nil {
		t.Fatalf("getJSON: %v", err)
	}
	if !ok || user != "api-key-123" || pass != "x" {
		t.Fatalf("basic auth = %q/%q ok=%v, want key as username", user, pass, ok)
	}
}
