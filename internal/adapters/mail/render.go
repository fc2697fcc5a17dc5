/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package mail

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/aminederouich/pfe-back-sub000/internal/weekly"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	markdownOnce sync.Once
	markdown     goldmark.Markdown
)

func getMarkdown() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))
	})
	return markdown
}

var mdEscaper = strings.NewReplacer(
	`\`, `\\`, "*", `\*`, "_", `\_`, "`", "\\`", "|", `\|`, "[", `\[`, "]", `\]`, "<", `\<`, ">", `\>`, "#", `\#`,
)

var digestTmpl = template.Must(template.New("digest").Funcs(template.FuncMap{
	"md":   mdEscaper.Replace,
	"date": func(t time.Time) string { return t.Format("Monday 02 January 2006") },
}).Parse(`Hello {{md .Greeting}},

Here is the leaderboard for the week of **{{date .WeekStart}}** to **{{date .WeekEnd}}**.

{{if .Leaderboard -}}
| Rank | Name | Points |
|---:|---|---:|
{{range .Leaderboard -}}
| {{.Rank}} | {{md .Label}} | {{.Score}} |
{{end}}
{{- else -}}
Nobody scored points this week.
{{- end}}

Your total this week: **{{.UserScore}} points**.
{{with .Summary}}
> {{md .}}
{{end}}
Keep it up!
`))

type rowView struct {
	Rank  int
	Label string
	Score int
}

// Render returns the subject, Markdown body and HTML body of a digest email.
func Render(d weekly.Digest) (subject, text, html string, err error) {
	greeting := d.User.Name()
	if greeting == "" {
		greeting = d.User.Email
	}
	rows := make([]rowView, 0, len(d.Leaderboard))
	for _, e := range d.Leaderboard {
		label := e.Name
		if label == "" {
			label = e.ID
		}
		rows = append(rows, rowView{Rank: e.Rank, Label: label, Score: e.Score})
	}
	view := struct {
		weekly.Digest
		Greeting    string
		Leaderboard []rowView
	}{Digest: d, Greeting: greeting, Leaderboard: rows}

	var md bytes.Buffer
	if err := digestTmpl.Execute(&md, view); err != nil {
		return "", "", "", fmt.Errorf("render digest: %w", err)
	}
	var out bytes.Buffer
	if err := getMarkdown().Convert(md.Bytes(), &out); err != nil {
		return "", "", "", fmt.Errorf("convert digest: %w", err)
	}
	subject = fmt.Sprintf("Weekly leaderboard %s - %s", d.WeekStart.Format("02 Jan"), d.WeekEnd.Format("02 Jan 2006"))
	return subject, md.String(), out.String(), nil
}
