package email

import (
	htmltemplate "html/template"
	"sort"
	"strings"
	texttemplate "text/template"
	"time"

	"auth_expiry_notifier/internal/domain/notification"
)

// preferencesTag is replaced by SendGrid with the recipient's preference page.
const preferencesTag = "<%asm_preferences_raw_url%>"

const projectURL = "https://github.com/mjennings061/vgs-stars"

const textBody = `Dear {{.Name}},

This is a notification that you have {{.Count}} STARS authorisation(s) {{.Headline}}.
{{if .Earliest}}
Earliest expiry: {{.Earliest}}
{{end}}
Authorisations expiring:
------------------------------------------------------------
{{range .Auths}}- {{.Name}}
  Expiry: {{.Expiry}}

{{end}}------------------------------------------------------------

Please renew your authorisations via your QESO.

This is an automated notification from the 661 VGS STARS system.
Manage preferences: {{.PreferencesURL}}

{{.ProjectURL}}
`

const htmlBody = `<html>
<head>
<style>
body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
h2 { color: #2c3e50; }
table { border-collapse: collapse; width: 100%; margin: 20px 0; }
th, td { border: 1px solid #ddd; padding: 12px; text-align: left; }
th { background-color: #3498db; color: white; }
tr:nth-child(even) { background-color: #f2f2f2; }
.warning { color: #e74c3c; font-weight: bold; }
.footer { margin-top: 30px; font-size: 0.9em; color: #7f8c8d; }
</style>
</head>
<body>
<h2>Dear {{.Name}},</h2>
<p>This is a notification that you have <strong>{{.Count}}</strong> STARS authorisation(s) {{.Headline}}.</p>
{{if .Earliest}}<p class="warning">Earliest expiry: {{.Earliest}}</p>{{end}}
<h3>Authorisations Expiring:</h3>
<table>
<tr>
<th>Authorisation</th>
<th>Expiry Date</th>
</tr>
{{range .Auths}}<tr>
<td>{{.Name}}</td>
<td>{{.Expiry}}</td>
</tr>
{{end}}</table>
<p>Please renew your authorisations via your QESO.</p>
<p class="footer">This is an automated notification from the <a href="{{.ProjectURL}}">661 VGS STARS system</a>.<br>{{.PreferencesLink}}</p>
</body>
</html>
`

var (
	textTmpl = texttemplate.Must(texttemplate.New("text").Parse(textBody))
	htmlTmpl = htmltemplate.Must(htmltemplate.New("html").Parse(htmlBody))
)

type authRow struct {
	Name   string
	Expiry string
}

type bodyData struct {
	Name            string
	Count           int
	Headline        string
	Earliest        string
	Auths           []authRow
	PreferencesURL  string
	PreferencesLink htmltemplate.HTML
	ProjectURL      string
}

func formatDate(t time.Time) string {
	return t.Format("02 January 2006")
}

func newBodyData(batch *notification.Batch) bodyData {
	auths := append([]notification.AuthSummary(nil), batch.Auths...)
	sort.SliceStable(auths, func(i, j int) bool { return auths[i].ExpiryDate.Before(auths[j].ExpiryDate) })

	d := bodyData{
		Name:            batch.ResourceName,
		Count:           len(auths),
		Headline:        "expiring soon",
		PreferencesURL:  preferencesTag,
		PreferencesLink: htmltemplate.HTML(`<a href="` + preferencesTag + `">Manage preferences</a>`),
		ProjectURL:      projectURL,
	}
	if batch.Category == notification.CategoryExpired {
		d.Headline = "expired or expiring soon"
	}
	if len(auths) > 0 {
		d.Earliest = formatDate(auths[0].ExpiryDate)
	}
	for _, a := range auths {
		d.Auths = append(d.Auths, authRow{Name: a.AuthName, Expiry: formatDate(a.ExpiryDate)})
	}
	return d
}

// Render returns the HTML and plain text bodies for batch. Auths are listed
// by ascending expiry.
func Render(batch *notification.Batch) (html, text string, err error) {
	data := newBodyData(batch)

	var hb, tb strings.Builder
	if err := htmlTmpl.Execute(&hb, data); err != nil {
		return "", "", err
	}
	if err := textTmpl.Execute(&tb, data); err != nil {
		return "", "", err
	}
	return hb.String(), tb.String(), nil
}
