package source

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/graphloom/graphloom/internal/schema"
)

func TestFetchSourceBuildsFieldListQuery(t *testing.T) {
	var gotQuery, gotKey, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload struct {
			Query string `json:"query"`
		}
		_ = json.Unmarshal(body, &payload)
		gotQuery = payload.Query
		gotKey = r.Header.Get("x-auth-key")
		gotType = r.Header.Get("x-auth-type")

		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"units_mv": []map[string]any{
					{"unit_slug": "algebra-1", "year": 7},
				},
			},
		})
	}))
	defer srv.Close()

	c := NewGraphQLClient(srv.URL, "key-1", "role-1")
	rows, err := c.FetchSource(context.Background(), "units_mv",
		schema.Source{Fields: []string{"unit_slug", "year"}, Limit: 50})
	if err != nil {
		t.Fatalf("FetchSource: %v", err)
	}

	if len(rows) != 1 || rows[0]["unit_slug"] != "algebra-1" {
		t.Errorf("rows = %v", rows)
	}
	for _, want := range []string{"units_mv(limit: 50)", "unit_slug", "year"} {
		if !strings.Contains(gotQuery, want) {
			t.Errorf("query missing %q:\n%s", want, gotQuery)
		}
	}
	if gotKey != "key-1" || gotType != "role-1" {
		t.Errorf("auth headers = %q / %q", gotKey, gotType)
	}
}

func TestFetchSourceSurfacesGraphQLErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"errors": []map[string]any{{"message": "field 'nope' not found"}},
		})
	}))
	defer srv.Close()

	c := NewGraphQLClient(srv.URL, "", "")
	_, err := c.FetchSource(context.Background(), "units_mv", schema.Source{Fields: []string{"nope"}})
	if err == nil || !strings.Contains(err.Error(), "field 'nope' not found") {
		t.Errorf("err = %v", err)
	}
}

func TestFetchSourceHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewGraphQLClient(srv.URL, "", "")
	_, err := c.FetchSource(context.Background(), "units_mv", schema.Source{Fields: []string{"a"}})
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Errorf("err = %v", err)
	}
}

func TestDiscoverFieldsKeepsScalarsOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"__schema": map[string]any{
					"queryType": map[string]any{
						"fields": []map[string]any{
							{
								"name": "units_mv",
								"type": map[string]any{
									"kind": "LIST",
									"ofType": map[string]any{
										"kind": "OBJECT",
										"fields": []map[string]any{
											{"name": "unit_slug", "type": map[string]any{"kind": "SCALAR", "name": "String"}},
											{"name": "year", "type": map[string]any{"kind": "NON_NULL", "name": ""}},
											{"name": "lessons", "type": map[string]any{"kind": "OBJECT", "name": "lesson"}},
										},
									},
								},
							},
						},
					},
				},
			},
		})
	}))
	defer srv.Close()

	c := NewGraphQLClient(srv.URL, "", "")
	fields, err := c.DiscoverFields(context.Background(), "units_mv")
	if err != nil {
		t.Fatalf("DiscoverFields: %v", err)
	}
	if len(fields) != 2 || fields[0] != "unit_slug" || fields[1] != "year" {
		t.Errorf("fields = %v", fields)
	}
}

func TestFetchAll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		name := "units_mv"
		if strings.Contains(string(body), "lessons_mv") {
			name = "lessons_mv"
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{name: []map[string]any{{"id": name}}},
		})
	}))
	defer srv.Close()

	c := NewGraphQLClient(srv.URL, "", "")
	sources := map[string]schema.Source{
		"units_mv":   {Fields: []string{"id"}},
		"lessons_mv": {Fields: []string{"id"}},
	}
	out, err := FetchAll(context.Background(), c, sources)
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(out) != 2 || len(out["units_mv"]) != 1 || len(out["lessons_mv"]) != 1 {
		t.Errorf("out = %v", out)
	}
}
