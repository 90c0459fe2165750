package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"aegis/internal/domain"
)

type fixedState bool

func (s fixedState) Connected() bool { return bool(s) }

func TestStartAnalysisRejectsWhenDisconnected(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	api := NewAPI(srv.URL, srv.URL, fixedState(false))
	_, err := api.StartAnalysis(context.Background(), domain.AnalysisRequest{Name: "Bennu"})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err=%v want=ErrNotConnected", err)
	}
	if hits.Load() != 0 {
		t.Fatalf("disconnected submission must not reach the network")
	}
	if api.Analyzing() {
		t.Fatalf("rejected submission must not set the in-flight flag")
	}
}

func TestStartAnalysisSingleFlight(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(StartAnalysisResponse{RunID: "run-1", Message: "Analysis started"})
	}))
	defer srv.Close()

	api := NewAPI(srv.URL, srv.URL, fixedState(true))
	ctx := context.Background()

	resp, err := api.StartAnalysis(ctx, domain.AnalysisRequest{Name: "Bennu"})
	if err != nil {
		t.Fatalf("first submission: %v", err)
	}
	if resp.RunID != "run-1" {
		t.Fatalf("run id=%s want=run-1", resp.RunID)
	}
	if !api.Analyzing() {
		t.Fatalf("expected in-flight flag after successful submission")
	}

	if _, err := api.StartAnalysis(ctx, domain.AnalysisRequest{Name: "Eros"}); !errors.Is(err, ErrAnalysisInFlight) {
		t.Fatalf("second submission err=%v want=ErrAnalysisInFlight", err)
	}

	api.FinishAnalysis()
	if _, err := api.StartAnalysis(ctx, domain.AnalysisRequest{Name: "Eros"}); err != nil {
		t.Fatalf("submission after terminal event: %v", err)
	}
}

func TestStartAnalysisFailureClearsFlag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	api := NewAPI(srv.URL, srv.URL, fixedState(true))
	if _, err := api.StartAnalysis(context.Background(), domain.AnalysisRequest{Name: "Bennu"}); err == nil {
		t.Fatalf("expected error for 500 response")
	}
	if api.Analyzing() {
		t.Fatalf("failed submission must clear the in-flight flag")
	}
}

func TestRunGrover(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/run-grover" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(domain.GroverResponse{
			Status: "success",
			Data: &domain.GroverData{
				PlotImage:          "ZmFrZQ==",
				Maneuver:           domain.Maneuver{ID: 7, Score: 0.93, Valid: true},
				SuccessProbability: 0.93,
				Iterations:         3,
			},
		})
	}))
	defer srv.Close()

	api := NewAPI(srv.URL, srv.URL, fixedState(true))
	resp, err := api.RunGrover(context.Background())
	if err != nil {
		t.Fatalf("run grover: %v", err)
	}
	if resp.Data == nil || resp.Data.Maneuver.ID != 7 {
		t.Fatalf("unexpected grover payload: %+v", resp)
	}
}

func TestRunGroverErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(domain.GroverResponse{Status: "error", Message: "no maneuver data"})
	}))
	defer srv.Close()

	api := NewAPI(srv.URL, srv.URL, fixedState(true))
	if _, err := api.RunGrover(context.Background()); err == nil {
		t.Fatalf("expected error for failed search")
	}
}
