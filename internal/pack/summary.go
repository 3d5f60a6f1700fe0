package pack

import (
	"bytes"
	"html/template"

	"github.com/Babel-Snake/vinagent-backend-sub000/pkg/types"
)

type summaryView struct {
	Task     types.Task
	Contact  *types.Contact
	Actions  []types.TaskAction
	Messages []types.Message
}

// BuildSummary renders the human-readable cover page of the bundle.
func BuildSummary(input Input) ([]byte, error) {
	view := summaryView{
		Task:     input.Task,
		Contact:  input.Contact,
		Actions:  input.Actions,
		Messages: input.Messages,
	}
	buf := bytes.NewBuffer(nil)
	if err := summaryHTMLTmpl.Execute(buf, view); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var summaryHTMLTmpl = template.Must(template.New("summary").Parse(`<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1"/>
  <title>Task Export</title>
  <style>
    body{font-family:ui-sans-serif,system-ui,-apple-system,Segoe UI,Roboto,Helvetica,Arial; margin:24px; color:#0f172a}
    .card{max-width:920px; border:1px solid #e2e8f0; border-radius:12px; padding:18px 18px; box-shadow:0 1px 2px rgba(0,0,0,.04)}
    .row{display:flex; flex-wrap:wrap; gap:12px}
    .pill{display:inline-block; padding:4px 10px; border-radius:999px; font-size:12px; background:#f1f5f9}
    code{background:#f1f5f9; padding:2px 6px; border-radius:6px}
    .k{width:220px; font-size:12px; color:#475569}
    .v{font-size:13px}
    .kv{display:flex; gap:12px; padding:6px 0; border-bottom:1px dashed #e2e8f0}
    .kv:last-child{border-bottom:none}
    table{border-collapse:collapse; width:100%; margin-top:14px; font-size:13px}
    th,td{text-align:left; padding:6px 8px; border-bottom:1px solid #e2e8f0}
    th{font-size:12px; color:#475569}
  </style>
</head>
<body>
  <div class="card">
    <div class="row" style="margin:0 0 12px 0">
      <span class="pill">Status: {{.Task.Status}}</span>
      <span class="pill">{{.Task.Category}} / {{.Task.Subtype}}</span>
      <span class="pill">Task: <code>{{.Task.ID}}</code></span>
    </div>
    <div class="kv"><div class="k">Priority</div><div class="v">{{.Task.Priority}}{{if .Task.Sentiment}} · sentiment {{.Task.Sentiment}}{{end}}</div></div>
    <div class="kv"><div class="k">Contact</div><div class="v">{{if .Contact}}{{.Contact.Name}} <code>{{.Contact.ID}}</code>{{else}}none{{end}}</div></div>
    <div class="kv"><div class="k">Created</div><div class="v">{{.Task.CreatedAt.Format "2006-01-02 15:04:05 MST"}}</div></div>
    <div class="kv"><div class="k">Updated</div><div class="v">{{.Task.UpdatedAt.Format "2006-01-02 15:04:05 MST"}}</div></div>
    <table>
      <tr><th>When</th><th>Action</th><th>Actor</th></tr>
      {{range .Actions}}<tr><td>{{.CreatedAt.Format "2006-01-02 15:04:05"}}</td><td>{{.Type}}</td><td>{{if .ActorID}}{{.ActorID}}{{else}}system{{end}}</td></tr>
      {{end}}
    </table>
    <table>
      <tr><th>When</th><th>Direction</th><th>Channel</th><th>Body</th></tr>
      {{range .Messages}}<tr><td>{{.OccurredAt.Format "2006-01-02 15:04:05"}}</td><td>{{.Direction}}</td><td>{{.Channel}}</td><td>{{.Body}}</td></tr>
      {{end}}
    </table>
  </div>
</body>
</html>`))
