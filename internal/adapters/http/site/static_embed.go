package site

import (
	"embed"
	"html/template"
)

//go:embed templates/*.html.tmpl
var templateFS embed.FS

var (
	indexTemplate = template.Must(template.ParseFS(templateFS, "templates/layout.html.tmpl", "templates/index.html.tmpl"))
	rekapTemplate = template.Must(template.ParseFS(templateFS, "templates/layout.html.tmpl", "templates/rekap.html.tmpl"))
)
