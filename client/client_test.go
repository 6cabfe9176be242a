package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mjcarson/thorium/models"
)

// newTestClient points a client with a plain transport at a test server.
func newTestClient(server *httptest.Server) *Client {
	return NewCustom(server.URL, "secret", http.DefaultClient)
}

func TestClaimRoundTrip(t *testing.T) {
	var gotPath, gotAuth, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.Query().Encode()
		json.NewEncoder(w).Encode([]models.Job{{ID: "j1", Pipeline: "harvest", Stage: "plots"}})
	}))
	defer server.Close()
	c := newTestClient(server)

	scoped := models.ScopedRequisition{
		Requisition: models.Requisition{User: "bob", Group: "corn", Pipeline: "harvest", Stage: "plots"},
		Node:        "n1",
	}
	jobs, err := c.Claim(context.Background(), scoped, "test", "plots", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].ID != "j1" {
		t.Fatalf("got jobs %v", jobs)
	}
	if gotPath != "/jobs/claim/corn/harvest/plots" {
		t.Fatalf("wrong path %s", gotPath)
	}
	if gotAuth != "token secret" {
		t.Fatalf("wrong auth header %q", gotAuth)
	}
	if gotQuery != "cluster=test&image=plots&max=1&node=n1" {
		t.Fatalf("wrong query %q", gotQuery)
	}
}

func TestDeadlines(t *testing.T) {
	when := time.Now().UTC().Truncate(time.Second)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/jobs/deadlines" {
			t.Errorf("wrong path %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode([]models.Deadline{{
			Requisition: models.Requisition{User: "bob", Group: "corn", Pipeline: "harvest", Stage: "plots"},
			JobID:       "j1",
			Deadline:    when,
		}})
	}))
	defer server.Close()
	c := newTestClient(server)

	deadlines, err := c.Deadlines(context.Background(), "test", 1000)
	if err != nil {
		t.Fatal(err)
	}
	if len(deadlines) != 1 || !deadlines[0].Deadline.Equal(when) {
		t.Fatalf("got %v", deadlines)
	}
}

func TestErrorStatusBubblesBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such pipeline", http.StatusNotFound)
	}))
	defer server.Close()
	c := newTestClient(server)

	err := c.CompleteJob(context.Background(), "j1")
	if err == nil {
		t.Fatal("expected an error for a 404")
	}
}

func TestRemoveWorkerToleratesMissing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()
	c := newTestClient(server)

	// A worker that already unregistered is not an error.
	if err := c.RemoveWorker(context.Background(), "w1"); err != nil {
		t.Fatal(err)
	}
}

func TestRegisterWorkersSkipsEmpty(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()
	c := newTestClient(server)

	if err := c.RegisterWorkers(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if called {
		t.Fatal("empty registrations should not hit the API")
	}
}

func TestPesterRetriesServerErrors(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(models.Version{Thorium: "1.2.0"})
	}))
	defer server.Close()
	c := NewCustom(server.URL, "secret", MakePesterClient())

	version, err := c.GetVersion(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if version.Thorium != "1.2.0" {
		t.Fatalf("got %v", version)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}
