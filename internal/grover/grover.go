// Package grover performs the standalone maneuver search over the
// exchange file the strategist stage writes. The selection itself is
// deterministic; the interface mirrors an amplitude-amplification
// search over the candidate register.
package grover

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"aegis/internal/domain"
)

var ErrNoValidManeuver = errors.New("no valid maneuver found")

type maneuverFile struct {
	Maneuvers []domain.Maneuver `json:"maneuvers"`
}

// Result is the outcome of one search over the maneuver register.
type Result struct {
	Maneuver           domain.Maneuver
	SuccessProbability float64
	Iterations         int
	PlotImage          string
}

// LoadManeuvers reads the exchange file.
func LoadManeuvers(path string) ([]domain.Maneuver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read maneuver file: %w", err)
	}
	var payload maneuverFile
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode maneuver file: %w", err)
	}
	return payload.Maneuvers, nil
}

// Search picks the best valid maneuver and renders the score plot.
func Search(maneuvers []domain.Maneuver) (Result, error) {
	var best domain.Maneuver
	found := false
	for _, m := range maneuvers {
		if !m.Valid {
			continue
		}
		if !found || m.Score > best.Score {
			best = m
			found = true
		}
	}
	if !found {
		return Result{}, ErrNoValidManeuver
	}
	return Result{
		Maneuver:           best,
		SuccessProbability: best.Score,
		Iterations:         iterations(len(maneuvers)),
		PlotImage:          plotSVG(maneuvers, best.ID),
	}, nil
}

// iterations approximates the optimal amplification count for an
// n-entry register.
func iterations(n int) int {
	if n <= 0 {
		return 0
	}
	return int(math.Round(math.Pi / 4 * math.Sqrt(float64(n))))
}

// plotSVG renders a score histogram, the chosen maneuver highlighted,
// and returns it base64-encoded for embedding.
func plotSVG(maneuvers []domain.Maneuver, optimalID int) string {
	const (
		barWidth = 24
		gap      = 6
		height   = 220
		chart    = 180
	)
	width := len(maneuvers)*(barWidth+gap) + gap

	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d">`, width, height)
	b.WriteString(`<rect width="100%" height="100%" fill="#101418"/>`)
	for i, m := range maneuvers {
		barHeight := int(m.Score * chart)
		if barHeight < 2 {
			barHeight = 2
		}
		x := gap + i*(barWidth+gap)
		y := height - 20 - barHeight
		fill := "#3d7dca"
		if !m.Valid {
			fill = "#5a5a5a"
		}
		if m.ID == optimalID {
			fill = "#39c46a"
		}
		fmt.Fprintf(&b, `<rect x="%d" y="%d" width="%d" height="%d" fill="%s"/>`, x, y, barWidth, barHeight, fill)
		fmt.Fprintf(&b, `<text x="%d" y="%d" fill="#cfcfcf" font-size="10" text-anchor="middle">%d</text>`,
			x+barWidth/2, height-6, m.ID)
	}
	b.WriteString(`</svg>`)
	return base64.StdEncoding.EncodeToString([]byte(b.String()))
}
