package download

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testServer() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/src/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "// contents of %s\n", r.URL.Path)
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	return httptest.NewServer(mux)
}

func TestFetch(t *testing.T) {
	srv := testServer()
	defer srv.Close()

	f := NewFetcher("", false)
	data, err := f.Fetch(context.Background(), srv.URL+"/src/Class1.cs")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "/src/Class1.cs") {
		t.Errorf("unexpected body %q", data)
	}
}

func TestFetchNon200(t *testing.T) {
	srv := testServer()
	defer srv.Close()

	f := NewFetcher("", false)
	if _, err := f.Fetch(context.Background(), srv.URL+"/missing"); err == nil {
		t.Error("404 did not fail the fetch")
	}
}

func TestFetchAllOrderAndIsolation(t *testing.T) {
	srv := testServer()
	defer srv.Close()

	urls := []string{
		srv.URL + "/src/A.cs",
		srv.URL + "/missing",
		srv.URL + "/src/B.cs",
	}

	f := NewFetcher("", false)
	results := f.FetchAll(context.Background(), urls)
	if len(results) != len(urls) {
		t.Fatalf("got %d results for %d urls", len(results), len(urls))
	}

	// results come back in input order regardless of completion order
	for i, res := range results {
		if res.URL != urls[i] {
			t.Errorf("result %d is for %s, want %s", i, res.URL, urls[i])
		}
	}

	if results[0].Err != nil || !strings.Contains(string(results[0].Data), "A.cs") {
		t.Errorf("result 0: %+v", results[0])
	}
	if results[1].Err == nil {
		t.Error("the failing URL did not report an error")
	}
	// one bad URL never aborts the batch
	if results[2].Err != nil || !strings.Contains(string(results[2].Data), "B.cs") {
		t.Errorf("result 2: %+v", results[2])
	}
}

func TestFetchAllCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := NewFetcher("", false)
	results := f.FetchAll(ctx, []string{"http://127.0.0.1:1/never"})
	if results[0].Err == nil {
		t.Error("cancelled fetch reported success")
	}
}
