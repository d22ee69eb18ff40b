package notify

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/couchcryptid/nowcast-alert-service/internal/domain"
)

const alertTemplate = `Automatic notification from the rainfall monitor

Location:    {{.Point}}
Coordinates: ({{printf "%.6f" .Lat}}, {{printf "%.6f" .Lon}})
Detected at: {{.DetectedAt}} JST

{{.Level}} is forecast.

Forecast rainfall:
{{- range .Rows}}
  - {{.Label}}: {{printf "%.1f" .Rate}} mm/h{{.Marker}}
{{- end}}

Peak rainfall: {{printf "%.1f" .MaxRate}} mm/h ({{.MaxLead}} min ahead)
Thresholds:    heavy {{.Heavy}} mm/h, torrential {{.Torrential}} mm/h

This message was sent automatically.
No further alert for this location will be sent for at least {{.Cooldown}} minutes.
`

const reportTemplate = `Rainfall monitor status report

Generated at: {{.GeneratedAt}} JST
System state: running

Collection over the last hour:
{{- range .Rows}}
  - {{.Name}}: {{.Count}} rows, {{.Status}}{{if .MaxRate}}, max {{printf "%.1f" .MaxRate}} mm/h{{end}}
{{- end}}

Statistics:
  - Active locations: {{.Active}}/{{.Total}}
  - Alerts sent in the last 24 hours: {{.Alerts24h}}
  - Collection interval: {{.IntervalMin}} min
  - Retention: {{.RetentionDays}} days

Scheduled reports: {{.Schedule}}
`

var (
	alertTmpl  = template.Must(template.New("alert").Parse(alertTemplate))
	reportTmpl = template.Must(template.New("report").Parse(reportTemplate))
)

type alertRow struct {
	Label  string
	Rate   float64
	Marker string
}

type alertData struct {
	Point      string
	Lat, Lon   float64
	DetectedAt string
	Level      string
	Rows       []alertRow
	MaxRate    float64
	MaxLead    int
	Heavy      float64
	Torrential float64
	Cooldown   int
}

type reportRow struct {
	Name    string
	Count   int
	Status  string
	MaxRate float64
}

type reportData struct {
	GeneratedAt   string
	Stamp         string
	Rows          []reportRow
	Active        int
	Total         int
	Alerts24h     int
	IntervalMin   int
	RetentionDays int
	Schedule      string
}

func levelLabel(kind domain.ThresholdKind) string {
	if kind == domain.ThresholdTorrential {
		return "Torrential rain"
	}
	return "Heavy rain"
}

func leadLabel(lead int) string {
	if lead == 0 {
		return "now"
	}
	return fmt.Sprintf("+%d min", lead)
}

func alertRows(leads []int, rates map[int]float64, th domain.Thresholds) []alertRow {
	rows := make([]alertRow, 0, len(leads))
	for _, lead := range leads {
		r := rates[lead]
		row := alertRow{Label: leadLabel(lead), Rate: r}
		switch th.Classify(r) {
		case domain.ThresholdTorrential:
			row.Marker = " [TORRENTIAL]"
		case domain.ThresholdHeavy:
			row.Marker = " [HEAVY]"
		}
		rows = append(rows, row)
	}
	return rows
}

func reportRows(locations []domain.MonitoredLocation, stats map[string]domain.LocationStats) ([]reportRow, int) {
	rows := make([]reportRow, 0, len(locations))
	active := 0
	for _, loc := range locations {
		s := stats[loc.Name]
		row := reportRow{Name: loc.Name, Count: s.Count, MaxRate: s.MaxRate}
		switch {
		case !loc.IsEnabled():
			row.Status = "disabled"
			row.MaxRate = 0
		case s.Count > 0:
			row.Status = "ok"
			active++
		default:
			row.Status = "no data"
		}
		rows = append(rows, row)
	}
	return rows, active
}

func renderAlert(d alertData) (string, string, error) {
	var buf bytes.Buffer
	if err := alertTmpl.Execute(&buf, d); err != nil {
		return "", "", fmt.Errorf("render alert: %w", err)
	}
	subject := fmt.Sprintf("[Rain alert] %s - %s", d.Point, d.Level)
	return subject, buf.String(), nil
}

func renderReport(d reportData) (string, string, error) {
	var buf bytes.Buffer
	if err := reportTmpl.Execute(&buf, d); err != nil {
		return "", "", fmt.Errorf("render report: %w", err)
	}
	subject := "[Rain monitor] Status report - " + d.Stamp
	return subject, buf.String(), nil
}
