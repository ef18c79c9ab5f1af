// Package report renders the end-of-run summary.
package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/rendis/geosweep/internal/engine/sweep"
	"github.com/rendis/geosweep/internal/model"
)

// Files lists the artifacts the run produced, shown under the totals.
type Files struct {
	Outputs []string
	Log     string
}

// Render returns the per-area table and the run totals.
func Render(sum model.RunSummary, files Files) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("GeoSweep Complete"))
	b.WriteString("\n\n")
	if len(sum.Areas) > 0 {
		b.WriteString(areaTable(sum.Areas))
		b.WriteString("\n\n")
	}
	b.WriteString(boxStyle.Render(totals(sum, files)))
	b.WriteString("\n")
	return b.String()
}

// Write renders to w.
func Write(w io.Writer, sum model.RunSummary, files Files) error {
	_, err := io.WriteString(w, "\n"+Render(sum, files))
	return err
}

func areaTable(areas []model.AreaReport) string {
	rows := make([][]string, 0, len(areas))
	for _, a := range areas {
		searches := 0
		for _, c := range a.Coverage {
			searches += c.Searches
		}
		rows = append(rows, []string{
			a.Name,
			strconv.Itoa(a.Found),
			strconv.Itoa(a.Unique),
			strconv.Itoa(a.Qualified),
			strconv.Itoa(len(a.Places)),
			strconv.Itoa(searches),
			strconv.Itoa(a.FloorHits()),
			strconv.Itoa(a.FailedSearches()),
			areaStatus(a),
		})
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(muted)).
		Headers("Area", "Found", "Unique", "Qualified", "Kept", "Searches", "Floors", "Degraded", "Status").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 8 && row >= 0 && row < len(areas) {
				return statusStyle(areas[row]).Padding(0, 1)
			}
			return cellStyle
		}).
		String()
}

func areaStatus(a model.AreaReport) string {
	switch {
	case a.Err != nil && isSkip(a.Err):
		return "skipped"
	case a.Err != nil:
		return "failed: " + shorten(a.Err.Error(), 40)
	case partial(a):
		return "partial"
	}
	return "ok"
}

func statusStyle(a model.AreaReport) lipgloss.Style {
	switch {
	case a.Err != nil && isSkip(a.Err):
		return lipgloss.NewStyle().Foreground(muted)
	case a.Err != nil:
		return errorStyle
	case partial(a):
		return warnStyle
	}
	return okStyle
}

// partial reports areas where some search was truncated, capped or failed.
func partial(a model.AreaReport) bool {
	for _, c := range a.Coverage {
		if !c.Complete() {
			return true
		}
	}
	return false
}

// isSkip reports areas that were never started.
func isSkip(err error) bool {
	return errors.Is(err, sweep.ErrCapReached) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func totals(sum model.RunSummary, files Files) string {
	s := sum.Stats
	var b strings.Builder

	row := func(label, value string, style lipgloss.Style) {
		b.WriteString(labelStyle.Render(label))
		b.WriteString(style.Render(value))
		b.WriteString("\n")
	}
	count := func(label string, n int64, bad lipgloss.Style) {
		style := valueStyle
		if n > 0 {
			style = bad
		}
		row(label, strconv.FormatInt(n, 10), style)
	}

	row("Run:", sum.ID.String(), valueStyle)
	row("Keywords:", strings.Join(sum.Keywords, ", "), valueStyle)
	row("Areas:", fmt.Sprintf("%d/%d", s.AreasDone, s.AreasTotal), valueStyle)
	count("Geocode failed:", s.GeocodeFailures, errorStyle)
	count("Areas skipped:", s.AreasSkipped, warnStyle)
	row("Search calls:", fmt.Sprintf("%d (%d requests)", s.SearchCalls, s.SearchRequests), valueStyle)
	count("Degraded:", s.SearchFailures, warnStyle)
	row("Radius increases:", strconv.FormatInt(s.RadiusIncreases, 10), valueStyle)
	row("Subdivisions:", strconv.FormatInt(s.Subdivisions, 10), valueStyle)
	row("Optimal 1st try:", strconv.FormatInt(s.OptimalFirstTry, 10), valueStyle)
	count("Floor hits:", s.FloorHits, warnStyle)
	count("Depth cap hits:", s.DepthCapHits, warnStyle)
	row("Detail calls:", strconv.FormatInt(s.DetailCalls, 10), valueStyle)
	count("Rate limited:", s.RateLimits, warnStyle)
	row("Places found:", strconv.FormatInt(s.PlacesFound, 10), valueStyle)
	row("Unique:", strconv.FormatInt(s.PlacesUnique, 10), valueStyle)
	row("Kept:", strconv.FormatInt(s.PlacesKept, 10), okStyle)
	row("Stored (new):", strconv.FormatInt(s.PlacesStored, 10), okStyle)
	count("Sink errors:", s.SinkErrors, errorStyle)
	row("Estimated cost:", fmt.Sprintf("$%.2f", sum.EstimatedCost), valueStyle)
	row("Duration:", sum.FinishedAt.Sub(sum.StartedAt).Truncate(time.Second).String(), valueStyle)
	for _, f := range files.Outputs {
		row("Output:", f, valueStyle)
	}
	if files.Log != "" {
		row("Log:", files.Log, valueStyle)
	}

	return strings.TrimSuffix(b.String(), "\n")
}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
