package api

import (
	"net/url"
	"testing"
)

func TestMessagePage(t *testing.T) {
	cases := []struct {
		name       string
		query      string
		wantBefore int64
		wantLimit  int
	}{
		{"defaults", "", 0, defaultMessageLimit},
		{"explicit limit", "limit=25", 0, 25},
		{"full history page", "limit=500", 0, 500},
		{"over cap falls back", "limit=501", 0, defaultMessageLimit},
		{"zero falls back", "limit=0", 0, defaultMessageLimit},
		{"negative falls back", "limit=-3", 0, defaultMessageLimit},
		{"garbage falls back", "limit=many", 0, defaultMessageLimit},
		{"before cursor", "before=42&limit=10", 42, 10},
		{"garbage before ignored", "before=soon", 0, defaultMessageLimit},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q, err := url.ParseQuery(tc.query)
			if err != nil {
				t.Fatalf("parse query: %v", err)
			}
			before, limit := messagePage(q)
			if before != tc.wantBefore {
				t.Errorf("before = %d, want %d", before, tc.wantBefore)
			}
			if limit != tc.wantLimit {
				t.Errorf("limit = %d, want %d", limit, tc.wantLimit)
			}
		})
	}
}
