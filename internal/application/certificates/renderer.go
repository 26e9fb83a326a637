package certificates

import (
	"bytes"
	"html/template"
	"strings"

	"certify-backend/internal/domain"
)

// Document is a rendered certificate ready to be served as an attachment.
type Document struct {
	FileName    string
	ContentType string
	Body        []byte
}

type Renderer interface {
	Render(cert *domain.Certificate) (*Document, error)
}

// HTMLRenderer produces a printable HTML certificate that links back to the
// public verification page.
type HTMLRenderer struct {
	BaseURL string
}

var certificateTemplate = template.Must(template.New("certificate").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Certificate {{.ID}}</title>
<style>
body { font-family: Georgia, serif; text-align: center; padding: 48px; }
.frame { border: 8px double #1f3a5f; padding: 48px; }
h1 { letter-spacing: 2px; color: #1f3a5f; }
.name { font-size: 32px; margin: 24px 0; }
.meta { color: #555; font-size: 14px; }
</style>
</head>
<body>
<div class="frame">
<h1>Certificate of {{.Kind}}</h1>
<p>This is to certify that</p>
<p class="name">{{.StudentName}}</p>
{{if .Department}}<p>of {{.Department}}</p>{{end}}
<p>has completed <strong>{{.Title}}</strong></p>
<p>Issued by {{.Issuer}} on {{.IssuedOn}}</p>
<p class="meta">Certificate ID: {{.ID}}</p>
{{if .VerifyURL}}<p class="meta">Verify at <a href="{{.VerifyURL}}">{{.VerifyURL}}</a></p>{{end}}
</div>
</body>
</html>
`))

type certificateView struct {
	ID          string
	Kind        string
	StudentName string
	Department  string
	Title       string
	Issuer      string
	IssuedOn    string
	VerifyURL   string
}

func (r HTMLRenderer) Render(cert *domain.Certificate) (*Document, error) {
	view := certificateView{
		ID:          cert.CertificateID,
		Kind:        kindLabel(cert.Category),
		StudentName: cert.StudentName,
		Department:  cert.Department,
		Title:       cert.Title,
		Issuer:      cert.Issuer,
		IssuedOn:    cert.IssuedOn,
		VerifyURL:   r.VerifyURL(cert.CertificateID),
	}
	var buf bytes.Buffer
	if err := certificateTemplate.Execute(&buf, view); err != nil {
		return nil, err
	}
	return &Document{
		FileName:    "certificate-" + cert.CertificateID + ".html",
		ContentType: "text/html; charset=utf-8",
		Body:        buf.Bytes(),
	}, nil
}

// VerifyURL is the public page a holder shares; empty without a base URL.
func (r HTMLRenderer) VerifyURL(certificateID string) string {
	base := strings.TrimRight(r.BaseURL, "/")
	if base == "" {
		return ""
	}
	return base + "/verify/" + certificateID
}

func kindLabel(category string) string {
	switch category {
	case "course", "workshop", "internship":
		return "Completion"
	case "event":
		return "Participation"
	}
	return "Achievement"
}
