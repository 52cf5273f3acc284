package bridge

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
)

func TestGrammarCheckerNormalization(t *testing.T) {
	t.Run("live gramadoir field names with string offsets", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != gramadoirPath {
				t.Errorf("path = %q", r.URL.Path)
			}
			w.Write([]byte(`[{
				"context": "Ta an peann ar an mbord",
				"contextoffset": "0",
				"errorlength": "2",
				"fromx": "0",
				"fromy": "0",
				"msg": "Síneadh fada ar iarraidh",
				"ruleId": "FADA",
				"tox": "2",
				"toy": "0"
			}]`))
		}))
		defer srv.Close()

		gc := NewGrammarChecker(testConfig(srv.URL))
		issues, err := gc.Analyze(context.Background(), "Ta an peann ar an mbord")
		if err != nil {
			t.Fatalf("analyze: %v", err)
		}
		if len(issues) != 1 {
			t.Fatalf("issues = %d, want 1", len(issues))
		}
		got := issues[0]
		if got.Code != "FADA" {
			t.Fatalf("code = %q", got.Code)
		}
		if got.Message != "Síneadh fada ar iarraidh" {
			t.Fatalf("message = %q", got.Message)
		}
		if got.Start != 0 || got.End != 2 {
			t.Fatalf("offsets = %d,%d, want 0,2", got.Start, got.End)
		}
	})

	t.Run("simplified field names with suggestions", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[{"code":"AGR","message":"Agreement","start":4,"end":7,"suggestions":["na"]}]`))
		}))
		defer srv.Close()

		gc := NewGrammarChecker(testConfig(srv.URL))
		issues, err := gc.Analyze(context.Background(), "Ta an peann ar an mbord")
		if err != nil {
			t.Fatalf("analyze: %v", err)
		}
		got := issues[0]
		if got.Code != "AGR" || got.Message != "Agreement" {
			t.Fatalf("issue = %+v", got)
		}
		if got.Start != 4 || got.End != 7 {
			t.Fatalf("offsets = %d,%d", got.Start, got.End)
		}
		if !reflect.DeepEqual(got.Suggestions, []string{"na"}) {
			t.Fatalf("suggestions = %v", got.Suggestions)
		}
	})

	t.Run("missing positions default to zero", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[{"ruleId":"SEIMHIU","msg":"Séimhiú ar iarraidh","suggestions":["mhór"]}]`))
		}))
		defer srv.Close()

		gc := NewGrammarChecker(testConfig(srv.URL))
		issues, err := gc.Analyze(context.Background(), "an bean mór")
		if err != nil {
			t.Fatalf("analyze: %v", err)
		}
		got := issues[0]
		if got.Start != 0 || got.End != 0 {
			t.Fatalf("offsets = %d,%d, want 0,0", got.Start, got.End)
		}
	})

	t.Run("end before start is clamped", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[{"ruleId":"X","msg":"y","fromx":"9","tox":"3"}]`))
		}))
		defer srv.Close()

		gc := NewGrammarChecker(testConfig(srv.URL))
		issues, err := gc.Analyze(context.Background(), "abc")
		if err != nil {
			t.Fatalf("analyze: %v", err)
		}
		if issues[0].Start > issues[0].End {
			t.Fatalf("invariant broken: start %d > end %d", issues[0].Start, issues[0].End)
		}
	})

	t.Run("non-array body is malformed", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"issues": []}`))
		}))
		defer srv.Close()

		gc := NewGrammarChecker(testConfig(srv.URL))
		if _, err := gc.Analyze(context.Background(), "abc"); !errors.Is(err, ErrMalformedResponse) {
			t.Fatalf("err = %v, want ErrMalformedResponse", err)
		}
	})
}
