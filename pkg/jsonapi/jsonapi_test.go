package jsonapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestErrMethodNotAllowed(t *testing.T) {
	tests := []struct {
		name          string
		method        string
		allowed       []string
		wantDetailHas string
	}{
		{
			name:          "with allowed methods",
			method:        "PATCH",
			allowed:       []string{"GET", "PUT"},
			wantDetailHas: "PATCH is not supported. Use one of: GET, PUT",
		},
		{
			name:          "no allowed methods",
			method:        "DELETE",
			allowed:       nil,
			wantDetailHas: "The DELETE method is not allowed for this resource",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ErrMethodNotAllowed(tt.method, tt.allowed)

			if err.StatusCode() != 405 {
				t.Errorf("StatusCode() = %d, want 405", err.StatusCode())
			}
			if err.Detail != tt.wantDetailHas {
				t.Errorf("Detail = %v, want %v", err.Detail, tt.wantDetailHas)
			}
			if method, ok := err.Meta["requested_method"].(string); !ok || method != tt.method {
				t.Errorf("Meta[requested_method] = %v, want %v", method, tt.method)
			}
		})
	}
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name       string
		err        Error
		wantStatus int
		wantCode   string
	}{
		{"bad request", ErrBadRequest("x"), 400, "bad_request"},
		{"invalid parameter", ErrInvalidParameter("window_start", "not RFC3339"), 400, "invalid_parameter"},
		{"unauthorized", ErrUnauthorized("missing_api_key", ""), 401, "missing_api_key"},
		{"not found", ErrNotFound("no_active_subscription", "x"), 404, "no_active_subscription"},
		{"unprocessable", ErrUnprocessable("invalid_config", "x"), 422, "invalid_config"},
		{"internal", ErrInternal(""), 500, "internal_error"},
		{"unavailable", ErrServiceUnavailable(""), 503, "service_unavailable"},
		{"timeout", ErrTimeout("x"), 504, "timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.StatusCode() != tt.wantStatus {
				t.Errorf("StatusCode() = %d, want %d", tt.err.StatusCode(), tt.wantStatus)
			}
			if tt.err.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", tt.err.Code, tt.wantCode)
			}
			if tt.err.Detail == "" {
				t.Error("Detail is empty")
			}
		})
	}

	p := ErrInvalidParameter("window_start", "bad")
	if p.Source == nil || p.Source.Parameter != "window_start" {
		t.Errorf("Source = %+v, want parameter window_start", p.Source)
	}
	if p.Detail != "window_start: bad" {
		t.Errorf("Detail = %q, want %q", p.Detail, "window_start: bad")
	}

	u := ErrUnauthorized("missing_api_key", "")
	if u.Source == nil || u.Source.Header != "X-API-Key" {
		t.Errorf("Source = %+v, want header X-API-Key", u.Source)
	}
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, ErrNotFound("no_active_subscription", "customer cus_1 has no active subscription"))

	if w.Code != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", w.Code)
	}
	if w.Header().Get("Content-Type") != ContentType {
		t.Errorf("Content-Type = %v, want %v", w.Header().Get("Content-Type"), ContentType)
	}

	var doc Document
	if err := json.Unmarshal(w.Body.Bytes(), &doc); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if len(doc.Errors) != 1 || doc.Errors[0].Code != "no_active_subscription" {
		t.Errorf("Errors = %+v", doc.Errors)
	}
	if doc.Data != nil {
		t.Errorf("Data = %v, want nil", doc.Data)
	}
}

func TestWriteError_Empty(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("Status = %d, want 500", w.Code)
	}
}

func TestWriteMethodNotAllowed(t *testing.T) {
	w := httptest.NewRecorder()
	WriteMethodNotAllowed(w, "POST", []string{"GET", "HEAD"})

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Status = %d, want 405", w.Code)
	}
	if got := w.Header().Get("Allow"); got != "GET, HEAD" {
		t.Errorf("Allow = %q, want %q", got, "GET, HEAD")
	}
}

func TestDocumentBuilder(t *testing.T) {
	r := NewResource("draft_invoice_lines", "sub_1").
		Attr("cost_due", "61.40").
		BelongsTo("subscription", "subscriptions", "sub_1").
		BelongsTo("plan_version", "plan_versions", "").
		Meta("components", 3).
		Build()

	doc := NewDocument().
		DataCollection([]Resource{r}).
		Meta("total_due", "61.40").
		Self("/api/v1/draft_invoice?customer_id=cus_1").
		JSONAPI().
		Build()

	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded struct {
		Data []struct {
			Type          string                     `json:"type"`
			ID            string                     `json:"id"`
			Attributes    map[string]any             `json:"attributes"`
			Relationships map[string]json.RawMessage `json:"relationships"`
		} `json:"data"`
		Meta    Meta     `json:"meta"`
		JSONAPI *JSONAPI `json:"jsonapi"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if len(decoded.Data) != 1 || decoded.Data[0].Attributes["cost_due"] != "61.40" {
		t.Errorf("Data = %+v", decoded.Data)
	}
	if _, ok := decoded.Data[0].Relationships["plan_version"]; ok {
		t.Error("empty relationship should be skipped")
	}
	if decoded.Meta["total_due"] != "61.40" {
		t.Errorf("Meta = %v", decoded.Meta)
	}
	if decoded.JSONAPI == nil || decoded.JSONAPI.Version != Version {
		t.Errorf("JSONAPI = %+v", decoded.JSONAPI)
	}
}

func TestDataCollection_NilIsEmptyArray(t *testing.T) {
	doc := NewDocument().DataCollection(nil).Build()
	data, _ := json.Marshal(doc)
	if string(data) != `{"data":[]}` {
		t.Errorf("got %s, want {\"data\":[]}", data)
	}
}
