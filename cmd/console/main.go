package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"aegis/internal/client"
	"aegis/internal/config"
	"aegis/internal/domain"
	"aegis/internal/view"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default ~/.aegis/config.toml)")
	serverURL := flag.String("server", "", "analysis server base URL (overrides config)")
	quantumURL := flag.String("quantum", "", "quantum collaborator base URL (overrides config)")
	logPath := flag.String("log", "", "append connection diagnostics to this file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if *configPath != "" {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
		cfg = config.Default()
	}

	server := firstNonEmpty(*serverURL, cfg.Console.ServerURL)
	quantum := firstNonEmpty(*quantumURL, cfg.Console.QuantumURL)

	logSink := io.Discard
	if *logPath != "" {
		f, err := os.OpenFile(*logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open log file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		logSink = f
	}
	logger := log.New(logSink, "console ", log.LstdFlags|log.Lmsgprefix)

	conn := client.NewConn(server, durationMS(cfg.Console.ReconnectDelayMS, 3*time.Second), logger)
	api := client.NewAPI(server, quantum, conn)

	app := tview.NewApplication()

	agentsView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	agentsView.SetTitle("Mission Agents").SetBorder(true)

	verdictView := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	verdictView.SetTitle("Verdict").SetBorder(true)

	candidatesTable := tview.NewTable().
		SetBorders(false).
		SetSelectable(false, false)
	candidatesTable.SetTitle("Deflection Candidates").SetBorder(true)

	quantumView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	quantumView.SetTitle("Quantum Maneuver (F2)").SetBorder(true)
	quantumView.SetText("Press F2 to run the maneuver search")

	promptInput := tview.NewInputField().
		SetLabel("Target -> Aegis: ")
	promptInput.SetBorder(true).SetTitle("Enter = start analysis (prompt or name=... diameter=... velocity=... mass=... probability=...)")

	statusView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	statusView.SetBorder(true).SetTitle("Status")

	left := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(agentsView, 0, 2, false).
		AddItem(verdictView, 5, 0, false).
		AddItem(quantumView, 0, 1, false)

	mainLayout := tview.NewFlex().
		AddItem(left, 0, 1, false).
		AddItem(candidatesTable, 0, 1, false)

	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(mainLayout, 0, 12, false).
		AddItem(promptInput, 3, 0, true).
		AddItem(statusView, 3, 0, false)

	// The snapshot is only touched inside QueueUpdateDraw closures, so
	// every reduction and redraw happens on the UI goroutine.
	state := view.NewState()

	setStatusAsync := func(msg string) {
		app.QueueUpdateDraw(func() {
			statusView.SetText(msg)
		})
	}

	conn.OnStateChange(func(connected bool) {
		app.QueueUpdateDraw(func() {
			state = state.WithConnected(connected)
			renderFrame(view.Render(state), agentsView, verdictView, candidatesTable, statusView)
		})
	})

	conn.OnEvent(func(ev domain.Event) {
		if ev.Kind == domain.EventWorkflowCompleted || ev.Kind == domain.EventWorkflowError {
			api.FinishAnalysis()
		}
		app.QueueUpdateDraw(func() {
			state = view.Reduce(state, ev)
			renderFrame(view.Render(state), agentsView, verdictView, candidatesTable, statusView)
		})
	})

	submit := func(text string) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		promptInput.SetText("")
		req := parseRequest(text)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			resp, err := api.StartAnalysis(ctx, req)
			if err != nil {
				setStatusAsync("Submission failed: " + err.Error())
				return
			}
			setStatusAsync("Analysis started: " + resp.RunID)
		}()
	}

	runGrover := func() {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			resp, err := api.RunGrover(ctx)
			text := renderGrover(resp, err)
			app.QueueUpdateDraw(func() {
				quantumView.SetText(text)
			})
		}()
	}

	promptInput.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		submit(promptInput.GetText())
	})

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyF10, tcell.KeyCtrlC:
			app.Stop()
			return nil
		case tcell.KeyF2:
			runGrover()
			return nil
		case tcell.KeyCtrlL:
			app.SetFocus(promptInput)
			return nil
		}
		if app.GetFocus() != promptInput && event.Key() == tcell.KeyRune {
			app.SetFocus(promptInput)
			return event
		}
		return event
	})

	renderFrame(view.Render(state), agentsView, verdictView, candidatesTable, statusView)

	conn.Start()
	defer conn.Close()

	if err := app.SetRoot(root, true).EnableMouse(true).SetFocus(promptInput).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "console failed: %v\n", err)
		os.Exit(1)
	}
}

// parseRequest turns the input line into a submission. A line of
// key=value pairs describes an explicit target; anything else is a
// free-text prompt resolved server-side.
func parseRequest(text string) domain.AnalysisRequest {
	if !strings.Contains(text, "=") {
		return domain.AnalysisRequest{Prompt: text}
	}
	var req domain.AnalysisRequest
	for _, field := range strings.Fields(text) {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(key) {
		case "name":
			req.Name = value
		case "diameter":
			req.DiameterM = parseFloat(value)
		case "velocity":
			req.VelocityKms = parseFloat(value)
		case "mass":
			req.MassKg = parseFloat(value)
		case "probability":
			req.ImpactProbability = parseFloat(value)
		}
	}
	if req.Name == "" {
		return domain.AnalysisRequest{Prompt: text}
	}
	return req
}

func parseFloat(v string) float64 {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}

func renderFrame(
	frame view.Frame,
	agentsView *tview.TextView,
	verdictView *tview.TextView,
	candidatesTable *tview.Table,
	statusView *tview.TextView,
) {
	var b strings.Builder
	if frame.Target != "" {
		b.WriteString("Target: " + frame.Target + "\n\n")
	}
	for _, line := range frame.AgentLines {
		b.WriteString(line + "\n")
	}
	agentsView.SetText(b.String())

	verdictView.SetText(frame.VerdictLine)

	candidatesTable.Clear()
	if frame.ResultsVisible {
		for i, h := range frame.CandidateHeader {
			candidatesTable.SetCell(0, i, tview.NewTableCell(h).SetSelectable(false).SetAttributes(tcell.AttrBold))
		}
		for r, row := range frame.CandidateRows {
			for c, cell := range row {
				candidatesTable.SetCell(r+1, c, tview.NewTableCell(cell))
			}
		}
	}

	statusView.SetText(frame.StatusLine + " | shortcuts: F2 maneuver search, F10 quit, Ctrl+L focus prompt")
}

func renderGrover(resp domain.GroverResponse, err error) string {
	if err != nil {
		return "Search failed: " + err.Error()
	}
	if resp.Data == nil {
		return "Search returned no maneuver"
	}
	d := resp.Data
	return fmt.Sprintf(
		"Optimal maneuver: #%d\nScore: %.4f\nSuccess probability: %.1f%%\nIterations: %d\nPlot: %d bytes (base64 SVG)",
		d.Maneuver.ID,
		d.Maneuver.Score,
		d.SuccessProbability*100,
		d.Iterations,
		len(d.PlotImage),
	)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func durationMS(ms int, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
