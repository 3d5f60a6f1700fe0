package api

import (
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Babel-Snake/vinagent-backend-sub000/internal/errs"
)

var confirmPageTmpl = template.Must(template.New("confirm").Parse(`<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1"/>
  <title>Confirm your details</title>
  <style>
    body{font-family:ui-sans-serif,system-ui,-apple-system,Segoe UI,Roboto,Helvetica,Arial; margin:24px; color:#0f172a; background:#ffffff}
    .card{max-width:560px; margin:0 auto; border:1px solid #e2e8f0; border-radius:12px; padding:18px 18px; box-shadow:0 1px 2px rgba(0,0,0,.04)}
    .pill{display:inline-block; padding:4px 10px; border-radius:999px; font-size:12px; background:#f1f5f9}
    .ok{background:#dcfce7}
    .bad{background:#fee2e2}
    .muted{color:#475569}
    h1{font-size:18px; margin:0 0 12px 0}
    .k{width:120px; font-size:12px; color:#475569}
    .v{font-size:13px}
    .kv{display:flex; gap:12px; padding:6px 0; border-bottom:1px dashed #e2e8f0}
    .kv:last-child{border-bottom:none}
    input[type=text]{width:100%; box-sizing:border-box; padding:6px 8px; border:1px solid #e2e8f0; border-radius:6px; font-size:13px}
    button{margin-top:14px; padding:8px 16px; border:none; border-radius:8px; background:#2563eb; color:#fff; font-size:14px; cursor:pointer}
    button:hover{background:#1d4ed8}
    label{display:block; font-size:12px; color:#475569; margin:10px 0 4px 0}
  </style>
</head>
<body>
  <div class="card">
    <h1>{{if .TenantName}}{{.TenantName}}{{else}}Confirm your details{{end}}</h1>

    {{if .Error}}
      <span class="pill bad">{{.Error}}</span>
      <p class="muted">If you still need to update your details, please reply to our last message and we will send a fresh link.</p>
    {{else if .Done}}
      <span class="pill ok">Address updated</span>
      <p class="muted">Thanks{{if .ContactName}}, {{.ContactName}}{{end}}. Your new address is on file.</p>
      <div class="kv"><div class="k">Street</div><div class="v">{{.Line1}}</div></div>
      <div class="kv"><div class="k">Suburb</div><div class="v">{{.Suburb}}</div></div>
      <div class="kv"><div class="k">Postcode</div><div class="v">{{.Postcode}}</div></div>
    {{else}}
      <p class="muted">Hi{{if .ContactName}} {{.ContactName}}{{end}}, please confirm your new address. You can correct any field before confirming.</p>
      <form method="post">
        <label for="line1">Street</label>
        <input type="text" id="line1" name="line1" value="{{.Line1}}"/>
        <label for="suburb">Suburb</label>
        <input type="text" id="suburb" name="suburb" value="{{.Suburb}}"/>
        <label for="postcode">Postcode</label>
        <input type="text" id="postcode" name="postcode" value="{{.Postcode}}"/>
        <button type="submit">Confirm address</button>
      </form>
      <p class="muted">This link can be used once and expires {{.ExpiresAt.Format "2 January 2006"}}.</p>
    {{end}}
  </div>
</body>
</html>`))

type confirmPageView struct {
	TenantName  string
	ContactName string
	Line1       string
	Suburb      string
	Postcode    string
	ExpiresAt   time.Time
	Done        bool
	Error       string
}

// ConfirmPage renders the public confirmation form for a valid token, or a
// terminal message for an expired, used or unknown one. Invalid tokens render
// at 200: the page is the error surface for humans following a link.
func (h *Handler) ConfirmPage(w http.ResponseWriter, r *http.Request) {
	view, err := h.Tasks.MemberView(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		h.renderConfirm(w, confirmPageView{Error: confirmErrorText(err)})
		return
	}
	h.renderConfirm(w, confirmPageView{
		TenantName:  view.TenantName,
		ContactName: view.ContactName,
		Line1:       stringField(view.Proposed, "line1"),
		Suburb:      stringField(view.Proposed, "suburb"),
		Postcode:    stringField(view.Proposed, "postcode"),
		ExpiresAt:   view.ExpiresAt,
	})
}

func (h *Handler) ConfirmPageSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderConfirm(w, confirmPageView{Error: "We could not read the form. Please try the link again."})
		return
	}
	override := map[string]any{
		"line1":    r.PostFormValue("line1"),
		"suburb":   r.PostFormValue("suburb"),
		"postcode": r.PostFormValue("postcode"),
	}

	token := chi.URLParam(r, "token")
	view, viewErr := h.Tasks.MemberView(r.Context(), token)

	result, err := h.Tasks.MemberConfirm(r.Context(), token, override)
	if err != nil {
		h.renderConfirm(w, confirmPageView{Error: confirmErrorText(err)})
		return
	}

	page := confirmPageView{
		Done:     true,
		Line1:    stringField(result.Applied, "line1"),
		Suburb:   stringField(result.Applied, "suburb"),
		Postcode: stringField(result.Applied, "postcode"),
	}
	if viewErr == nil {
		page.TenantName = view.TenantName
		page.ContactName = view.ContactName
	}
	h.renderConfirm(w, page)
}

func (h *Handler) renderConfirm(w http.ResponseWriter, view confirmPageView) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := confirmPageTmpl.Execute(w, view); err != nil {
		h.Log.Error("render confirm page failed", zap.Error(err))
	}
}

func confirmErrorText(err error) string {
	switch errs.KindOf(err) {
	case errs.KindTokenExpired:
		return "This link has expired."
	case errs.KindTokenAlreadyUsed:
		return "This change has already been confirmed."
	case errs.KindTokenNotFound:
		return "This link is not valid."
	case errs.KindInvalidStatusTransition:
		return "This request is no longer active."
	default:
		return "Something went wrong. Please try again later."
	}
}

func stringField(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}
