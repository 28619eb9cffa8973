package web

import (
	"fmt"
	"html/template"
	"io"
	"math"
	"time"

	"github.com/sweeney/thermostat/internal/logic"
	"github.com/sweeney/thermostat/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"temp": func(t logic.Temperature) string {
		if !t.IsValid() {
			return "n/a"
		}
		return fmt.Sprintf("%.1f°C", float64(t))
	},
	"pct": func(v float64) string {
		if math.IsNaN(v) {
			return "n/a"
		}
		return fmt.Sprintf("%.1f%%", v)
	},
	"actions": func(a logic.ActionSet) string {
		if a == logic.ActionNone {
			return "none"
		}
		return a.String()
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Thermostat</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Thermostat {{.Options.DeviceID}}</h1>

<h2>Control</h2>
<table>
<tr><th>Actions</th><td id="actions" class="{{if .LastCycle.Actions}}on{{else}}off{{end}}">{{actions .LastCycle.Actions}}</td></tr>
<tr><th>Temperature</th><td id="temperature">{{temp .LastCycle.Sample.Temperature}}{{if .LastCycle.Sample.UsedExternal}} (external){{end}}</td></tr>
<tr><th>Onboard</th><td>{{temp .LastCycle.Sample.Onboard}}</td></tr>
<tr><th>Humidity</th><td>{{pct .LastCycle.Sample.Humidity}}</td></tr>
<tr><th>Ready</th><td>{{if .Ready}}yes{{else}}no{{end}}</td></tr>
<tr><th>Serial</th><td>{{.LastCycle.Serial}}</td></tr>
</table>

<h2>Setpoint</h2>
<table>
<tr><th>Allowed</th><td>{{actions .LastCycle.Setpoint.AllowedActions}}</td></tr>
<tr><th>Heat</th><td>{{temp .LastCycle.Setpoint.Heat}}</td></tr>
<tr><th>Cool</th><td>{{temp .LastCycle.Setpoint.Cool}}</td></tr>
<tr><th>Circulate above</th><td>{{temp .LastCycle.Setpoint.CirculateAbove}}</td></tr>
<tr><th>Circulate below</th><td>{{temp .LastCycle.Setpoint.CirculateBelow}}</td></tr>
<tr><th>Threshold</th><td>{{temp .LastCycle.Threshold}}</td></tr>
</table>
{{if .LastCycle.Sample.Sensors}}
<h2>Sensors</h2>
<table>
{{range .LastCycle.Sample.Sensors}}<tr><th>{{.ID}}</th><td>{{temp .Temperature}}</td></tr>
{{end}}</table>
{{end}}
<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Options.Broker}}</td></tr>
<tr><th>Backlog</th><td>{{.Backlog}} / {{.Options.QueueDepth}} ({{.Options.QueuePolicy}})</td></tr>
</table>

<h2>Configuration</h2>
<table>
<tr><th>Cadence</th><td>{{.Config.Cadence}}</td></tr>
<tr><th>Program entries</th><td>{{.Config.Settings}}</td></tr>
<tr><th>Payload</th><td>{{.Config.PayloadBytes}} bytes{{if .Config.Dirty}} (not persisted){{end}}</td></tr>
<tr><th>External sensor</th><td>{{if .Config.ExternalID.IsZero}}none{{else}}{{.Config.ExternalID}}{{end}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>HTTP</th><td>{{.Options.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/config.json">Configuration</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}
