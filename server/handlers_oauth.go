package server

import (
	"html/template"
	"log/slog"
	"net/http"

	"github.com/onnwee/tweetchat/telemetry"
)

var callbackPage = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>tweetchat authorization</title></head>
<body>
{{if .Code}}
<p>Send this code to {{if .Bot}}{{.Bot}}{{else}}the bot{{end}} in chat to finish connecting your account:</p>
<pre id="code">{{.Code}}</pre>
<p>You can also paste the address of this page instead.</p>
{{else}}
<p>Authorization was not completed{{if .Error}}: {{.Error}}{{end}}.</p>
<p>Send any message to {{if .Bot}}{{.Bot}}{{else}}the bot{{end}} to start again.</p>
{{end}}
</body>
</html>
`))

// HandleTwitterCallback renders the authorization code returned by the
// provider so the user can paste it into chat. The code is bound to the
// PKCE verifier held by the user's session, so it is useless on its own.
func (h *Handlers) HandleTwitterCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	data := struct {
		Code, Error, Bot string
	}{Code: q.Get("code"), Bot: h.opts.BotName}

	status := http.StatusOK
	if data.Code == "" {
		status = http.StatusBadRequest
		data.Error = q.Get("error_description")
		if data.Error == "" {
			data.Error = q.Get("error")
		}
		telemetry.IncAuthEvent("callback_error")
	} else {
		telemetry.IncAuthEvent("callback")
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.WriteHeader(status)
	if err := callbackPage.Execute(w, data); err != nil {
		telemetry.LoggerWithCorr(r.Context()).Warn("render callback page", slog.Any("err", err), slog.String("component", "http"))
	}
}
