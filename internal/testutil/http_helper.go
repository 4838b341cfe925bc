package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

// MakeRequest builds a request with body encoded as JSON.
func MakeRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request body: %v", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req := httptest.NewRequest(method, url, bodyReader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return req
}

// WithURLParams attaches chi route parameters to req, as the router would.
// kv alternates names and values.
//
// Example:
//
//	req = testutil.WithURLParams(req, "courseID", courseID.String())
func WithURLParams(req *http.Request, kv ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// ParseJSONResponse parses a JSON response into the provided interface
func ParseJSONResponse(t *testing.T, resp *httptest.ResponseRecorder, v interface{}) {
	t.Helper()

	if err := json.Unmarshal(resp.Body.Bytes(), v); err != nil {
		t.Fatalf("Failed to parse JSON response: %v\nBody: %s", err, resp.Body.String())
	}
}

// AssertStatusCode checks if the response has the expected status code
func AssertStatusCode(t *testing.T, resp *httptest.ResponseRecorder, expected int) {
	t.Helper()

	if resp.Code != expected {
		t.Errorf("Expected status code %d, got %d\nBody: %s",
			expected, resp.Code, resp.Body.String())
	}
}

// AssertJSONContentType checks if the response has JSON content type
func AssertJSONContentType(t *testing.T, resp *httptest.ResponseRecorder) {
	t.Helper()

	contentType := resp.Header().Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("Expected Content-Type 'application/json', got '%s'", contentType)
	}
}

// AssertCookie checks if a cookie exists and optionally validates its value
func AssertCookie(t *testing.T, resp *httptest.ResponseRecorder, name string, expectedValue ...string) *http.Cookie {
	t.Helper()

	for _, cookie := range resp.Result().Cookies() {
		if cookie.Name == name {
			if len(expectedValue) > 0 && cookie.Value != expectedValue[0] {
				t.Errorf("Cookie %s: expected value '%s', got '%s'",
					name, expectedValue[0], cookie.Value)
			}
			return cookie
		}
	}

	t.Errorf("Cookie %s not found in response", name)
	return nil
}

// SetCookie adds a cookie to an HTTP request
func SetCookie(req *http.Request, name, value string) {
	req.AddCookie(&http.Cookie{
		Name:  name,
		Value: value,
	})
}
