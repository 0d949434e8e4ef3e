package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestValidateAPIKey(t *testing.T) {
	t.Parallel()

	if got := ValidateAPIKey("provided", "provided"); !got {
		t.Fatalf("expected true for matching keys")
	}
	if got := ValidateAPIKey("provided", "other"); got {
		t.Fatalf("expected false for mismatched keys")
	}
	if got := ValidateAPIKey("", "configured"); got {
		t.Fatalf("expected false for empty provided key")
	}
	if got := ValidateAPIKey("provided", ""); got {
		t.Fatalf("expected false for empty configured key")
	}
}

func TestExtractAPIKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{name: "bearer", header: "Bearer kiosk-key", want: "kiosk-key"},
		{name: "padded", header: "Bearer   kiosk-key ", want: "kiosk-key"},
		{name: "missing", header: "", wantErr: true},
		{name: "basic", header: "Basic abc", wantErr: true},
		{name: "blank", header: "Bearer   ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "http://kiosk.test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			got, err := ExtractAPIKey(req)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got key %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected key %q, got %q", tt.want, got)
			}
		})
	}
}
