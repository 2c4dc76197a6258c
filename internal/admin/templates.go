package admin

import (
	"embed"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/matt-riley/experimentz/internal/core"
)

//go:embed templates/*.html static/*
var content embed.FS

var funcs = template.FuncMap{
	"formatTime": func(t time.Time) string {
		return t.Format(time.RFC3339)
	},
	"formatDate": func(t time.Time) string {
		return t.Format("2006-01-02")
	},
	"statusClass": func(s core.Status) string {
		return "status-" + strings.ToLower(strings.ReplaceAll(string(s), " ", "-"))
	},
	"actionLabel": actionLabel,
	"nextBest": func(r core.Rule) *core.NextBestVariation {
		nbv, _ := r.Action.(*core.NextBestVariation)
		return nbv
	},
	"checkValue": func(r core.Rule) *core.CheckValue {
		cv, _ := r.Action.(*core.CheckValue)
		return cv
	},
	"fieldNames": func(fields core.FieldSet) string {
		names := make([]string, len(fields))
		for i, f := range fields {
			names[i] = string(f)
		}
		return strings.Join(names, ", ")
	},
}

func actionLabel(a core.Action) string {
	if a == nil {
		return ""
	}
	switch a.Type() {
	case core.ActionAllow:
		return "Allow"
	case core.ActionSuppress:
		return "Suppress"
	case core.ActionNextBestVariation:
		return "Next best variation"
	case core.ActionCheckValue:
		return "Check value"
	default:
		return string(a.Type())
	}
}

// Render renders a template with the given data.
func Render(w io.Writer, name string, data any) error {
	tmpl, err := template.New("base.html").Funcs(funcs).ParseFS(content, "templates/base.html", "templates/"+name)
	if err != nil {
		return err
	}
	return tmpl.Execute(w, data)
}
