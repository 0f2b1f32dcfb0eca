package notifications

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"tipline/internal/store"
)

var (
	tipTemplate = template.Must(template.New("tip").Parse(`Hello {{.Receiver}},

a new tip was submitted to {{.Node}} through the context "{{.Context}}".

Tip:        {{.TipID}}
Submitted:  {{.Date}}
Expires:    {{.Expires}}
`))

	commentTemplate = template.Must(template.New("comment").Parse(`Hello {{.Receiver}},

a new {{.CommentType}} comment was added to tip {{.TipID}} on {{.Node}}.

Posted: {{.Date}}
`))

	fileTemplate = template.Must(template.New("file").Parse(`Hello {{.Receiver}},

the file "{{.FileName}}" of tip {{.TipID}} on {{.Node}} has been processed.

Status: {{.Status}}
{{- if eq .Status "unreadable"}}
The file could not be encrypted for you. Check your age recipient with the node operator.
{{- end}}
`))

	keyTemplate = template.Must(template.New("key").Parse(`Hello {{.Receiver}},

the age recipient registered for you on {{.Node}} can no longer be used.

New files delivered to you are marked unreadable until the node operator
records a new recipient for your account. Tips and comments are unaffected.
`))
)

// KeyInvalidMessage renders the plaintext warning sent to a receiver whose
// age recipient stopped parsing. It carries no tip data.
func KeyInvalidMessage(node string, r *store.Receiver) (Message, error) {
	body, err := renderTemplate(keyTemplate, mailData{Node: node, Receiver: r.Name})
	if err != nil {
		return Message{}, err
	}
	return Message{
		To:      r.Email,
		Subject: fmt.Sprintf("[%s] Your encryption key needs to be replaced", node),
		Body:    body,
	}, nil
}

type mailData struct {
	Node        string
	Receiver    string
	Context     string
	TipID       string
	Date        string
	Expires     string
	CommentType string
	FileName    string
	Status      string
}

func renderTemplate(tmpl *template.Template, data mailData) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s mail: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04 MST")
}
