package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"aegis/internal/domain"
)

var (
	ErrNotConnected     = errors.New("not connected to analysis server")
	ErrAnalysisInFlight = errors.New("an analysis is already in flight")
)

// ConnectionState reports whether the event socket is currently up.
type ConnectionState interface {
	Connected() bool
}

// StartAnalysisResponse is the POST /analyze reply body.
type StartAnalysisResponse struct {
	RunID   string `json:"run_id"`
	Message string `json:"message"`
}

// API submits work to the analysis server and the quantum collaborator.
// At most one analysis is in flight at a time; the flag clears on a
// failed submission or when the caller observes a terminal event.
type API struct {
	serverURL  string
	quantumURL string
	state      ConnectionState
	httpClient *http.Client

	inFlight atomic.Bool
}

func NewAPI(serverURL, quantumURL string, state ConnectionState) *API {
	return &API{
		serverURL:  strings.TrimSuffix(serverURL, "/"),
		quantumURL: strings.TrimSuffix(quantumURL, "/"),
		state:      state,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// StartAnalysis submits one analysis request. It fails synchronously,
// without touching the network, when the socket is down, and refuses a
// second submission while one is outstanding. Failures are not retried.
func (a *API) StartAnalysis(ctx context.Context, req domain.AnalysisRequest) (StartAnalysisResponse, error) {
	if !a.state.Connected() {
		return StartAnalysisResponse{}, ErrNotConnected
	}
	if !a.inFlight.CompareAndSwap(false, true) {
		return StartAnalysisResponse{}, ErrAnalysisInFlight
	}

	resp, err := a.postAnalyze(ctx, req)
	if err != nil {
		a.inFlight.Store(false)
		return StartAnalysisResponse{}, err
	}
	return resp, nil
}

// FinishAnalysis clears the in-flight flag. Call it when a terminal
// workflow event arrives.
func (a *API) FinishAnalysis() {
	a.inFlight.Store(false)
}

// Analyzing reports whether a submission is outstanding.
func (a *API) Analyzing() bool {
	return a.inFlight.Load()
}

func (a *API) postAnalyze(ctx context.Context, req domain.AnalysisRequest) (StartAnalysisResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return StartAnalysisResponse{}, fmt.Errorf("marshal analysis request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.serverURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return StartAnalysisResponse{}, fmt.Errorf("build analyze request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return StartAnalysisResponse{}, fmt.Errorf("post analyze: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return StartAnalysisResponse{}, fmt.Errorf("analyze rejected: %s: %s", httpResp.Status, strings.TrimSpace(string(payload)))
	}

	var resp StartAnalysisResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return StartAnalysisResponse{}, fmt.Errorf("decode analyze response: %w", err)
	}
	return resp, nil
}

// RunGrover triggers the isolated maneuver search on the quantum
// collaborator. It shares no state with the main workflow.
func (a *API) RunGrover(ctx context.Context) (domain.GroverResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.quantumURL+"/run-grover", nil)
	if err != nil {
		return domain.GroverResponse{}, fmt.Errorf("build grover request: %w", err)
	}
	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return domain.GroverResponse{}, fmt.Errorf("get run-grover: %w", err)
	}
	defer httpResp.Body.Close()

	var resp domain.GroverResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return domain.GroverResponse{}, fmt.Errorf("decode grover response: %w", err)
	}
	if resp.Status != "success" {
		return resp, fmt.Errorf("grover search failed: %s", firstNonEmpty(resp.Message, httpResp.Status))
	}
	return resp, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
