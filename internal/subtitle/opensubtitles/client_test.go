package opensubtitles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/subtitles", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Api-Key") != "key" {
			http.Error(w, "no key", http.StatusUnauthorized)
			return
		}
		q := r.URL.Query()
		if q.Get("tmdb_id") != "42" || q.Get("type") != "episode" || q.Get("season_number") != "1" || q.Get("languages") != "en,es" {
			http.Error(w, "unexpected query "+r.URL.RawQuery, http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `{"data":[
			{"id":"1","attributes":{"language":"es","download_count":900,"files":[{"file_id":11}]}},
			{"id":"2","attributes":{"language":"en","download_count":50,"files":[{"file_id":12}]}},
			{"id":"3","attributes":{"language":"en","download_count":500,"machine_translated":true,"files":[{"file_id":13}]}},
			{"id":"4","attributes":{"language":"","files":[{"file_id":14}]}},
			{"id":"5","attributes":{"language":"fr","files":[]}}
		]}`)
	})
	mux.HandleFunc("/download", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			FileID int64  `json:"file_id"`
			Format string `json:"sub_format"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.FileID != 12 || body.Format != "srt" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `{"link":"/files/12.srt","file_name":"episode.srt"}`)
	})
	mux.HandleFunc("/files/12.srt", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "1\n00:00:01,000 --> 00:00:02,000\nHi\n")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := New(Config{APIKey: "key", BaseURL: url, RequestsPerSecond: 1000})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestSearch(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	c := newTestClient(t, srv.URL)
	subs, err := c.Search(context.Background(), SearchRequest{TMDBID: 42, Season: 1, Episode: 2, Languages: []string{"en", "es"}})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(subs) != 3 {
		t.Fatalf("got %d subtitles, want 3", len(subs))
	}
	if subs[2].FileID != 13 || !subs[2].AITranslated {
		t.Errorf("third: got %+v", subs[2])
	}
}

func TestDownload(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	c := newTestClient(t, srv.URL)
	res, err := c.Download(context.Background(), 12, "")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if res.FileName != "episode.srt" || string(res.Data) != "1\n00:00:01,000 --> 00:00:02,000\nHi\n" {
		t.Errorf("got %+v", res)
	}

	data, err := c.Loader(12, "srt")(context.Background())
	if err != nil || len(data) == 0 {
		t.Errorf("Loader: %v", err)
	}
}

func TestSearchValues(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		req  SearchRequest
		want map[string]string
	}{
		{SearchRequest{IMDBID: "tt0133093"}, map[string]string{"imdb_id": "0133093", "type": "movie"}},
		{SearchRequest{IMDBID: "bad", Query: " matrix "}, map[string]string{"imdb_id": "", "type": "", "query": "matrix"}},
		{SearchRequest{ParentTMDBID: 7, Episode: 3, HearingImpaired: true}, map[string]string{"parent_tmdb_id": "7", "episode_number": "3", "type": "episode", "hearing_impaired": "include"}},
	} {
		v := tc.req.values()
		for k, want := range tc.want {
			if got := v.Get(k); got != want {
				t.Errorf("%+v %s: got %q, want %q", tc.req, k, got, want)
			}
		}
		if v.Get("order_by") != "download_count" {
			t.Errorf("%+v order_by: got %q, want download_count", tc.req, v.Get("order_by"))
		}
	}
}

func TestDownloadForeignLinkDropsKey(t *testing.T) {
	t.Parallel()

	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Api-Key") != "" || r.Header.Get("Authorization") != "" {
			http.Error(w, "credentials leaked", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, "payload")
	}))
	t.Cleanup(files.Close)
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"link":%q,"file_name":"a.srt"}`, files.URL+"/a.srt")
	}))
	t.Cleanup(api.Close)

	c, err := New(Config{APIKey: "key", UserToken: "tok", BaseURL: api.URL, RequestsPerSecond: 1000})
	if err != nil {
		t.Fatal(err)
	}
	res, err := c.Download(context.Background(), 1, "")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if string(res.Data) != "payload" {
		t.Errorf("got %q, want payload", res.Data)
	}
}

func TestStatusError(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	c, _ := New(Config{APIKey: "wrong", BaseURL: srv.URL, RequestsPerSecond: 1000})
	_, err := c.Search(context.Background(), SearchRequest{TMDBID: 42})
	var se *StatusError
	if !errors.As(err, &se) || se.Status != http.StatusUnauthorized {
		t.Errorf("got %v, want 401 StatusError", err)
	}
}

func TestNewRequiresKey(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("got %v, want ErrNoAPIKey", err)
	}
}

func TestRank(t *testing.T) {
	t.Parallel()

	subs := []Subtitle{
		{ID: "fr", Language: "fr", Downloads: 10000},
		{ID: "es", Language: "es", Downloads: 900},
		{ID: "en-low", Language: "en", Downloads: 50},
		{ID: "en-mt", Language: "en", Downloads: 5000, AITranslated: true},
		{ID: "en-high", Language: "en", Downloads: 500},
	}
	got := Rank(subs, []string{"eng", "spa"})
	want := []string{"en-high", "en-low", "en-mt", "es", "fr"}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("rank %d: got %s, want %s", i, got[i].ID, id)
		}
	}
	if subs[0].ID != "fr" {
		t.Error("input reordered")
	}
}

func TestSanitizeIMDBID(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]string{"tt0133093": "0133093", " 42 ": "42", "abc": "", "": ""} {
		if got := sanitizeIMDBID(in); got != want {
			t.Errorf("sanitizeIMDBID(%q): got %q, want %q", in, got, want)
		}
	}
}
