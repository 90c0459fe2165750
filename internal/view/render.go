package view

import (
	"fmt"
	"strconv"
)

var agentTitles = [3]string{
	"Agent 1 · Threat Intel",
	"Agent 2 · Strategist",
	"Agent 3 · Safety Officer",
}

var statusIcons = map[AgentStatus]string{
	AgentWaiting:   "⏸",
	AgentRunning:   "⚙",
	AgentCompleted: "✔",
}

// Frame is everything the terminal needs to draw one snapshot. Keeping
// the string assembly here means the UI layer only places text.
type Frame struct {
	StatusLine      string
	Target          string
	AgentLines      [3]string
	VerdictLine     string
	ResultsVisible  bool
	CandidateHeader []string
	CandidateRows   [][]string
}

// Render projects a snapshot into presentation strings.
func Render(s State) Frame {
	var f Frame
	f.ResultsVisible = s.ResultsVisible
	f.Target = s.TargetName

	switch {
	case !s.Connected:
		f.StatusLine = "OFFLINE — reconnecting"
	case s.Analyzing:
		f.StatusLine = "CONNECTED — analysis in progress"
	default:
		f.StatusLine = "CONNECTED — idle"
	}

	for i, agent := range s.Agents {
		line := fmt.Sprintf("%s %s [%s]", statusIcons[agent.Status], agentTitles[i], agent.Status)
		switch {
		case agent.Status == AgentCompleted && agent.Summary != "":
			line += " " + agent.Summary
		case agent.Message != "":
			line += " " + agent.Message
		}
		f.AgentLines[i] = line
	}

	if s.Verdict.Kind != "" {
		f.VerdictLine = s.Verdict.Icon + " " + s.Verdict.Text
	}

	f.CandidateHeader = []string{"ID", "Velocity km/s", "Angle°", "Impactor kg", "Score", "Valid"}
	f.CandidateRows = make([][]string, 0, len(s.Candidates))
	for _, c := range s.Candidates {
		valid := "no"
		if c.Valid {
			valid = "yes"
		}
		f.CandidateRows = append(f.CandidateRows, []string{
			strconv.Itoa(c.ID),
			fmt.Sprintf("%.2f", c.VelocityKms),
			fmt.Sprintf("%.2f", c.AngleDeg),
			fmt.Sprintf("%.1f", c.ImpactorMassKg),
			fmt.Sprintf("%.4f", c.Score),
			valid,
		})
	}
	return f
}
