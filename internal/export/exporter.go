package export

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"estimate-service/internal/metrics"
	"estimate-service/internal/storage"
)

// Output formats
const (
	FormatHTML = "html"
	FormatPDF  = "pdf"
)

// PDFRenderer turns a standalone HTML document into PDF bytes
type PDFRenderer interface {
	RenderPDF(ctx context.Context, html string) ([]byte, error)
}

// Result describes a written bid ticket
type Result struct {
	Format string
	URL    string
}

var bidTicketTemplate = template.Must(template.New("bid-ticket").Parse(`<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>Bid Ticket {{.Job.ID}}</title>
<style>
body { font-family: -apple-system, Helvetica, Arial, sans-serif; margin: 32px; color: #222; }
h1 { margin-bottom: 4px; }
.range { font-size: 28px; font-weight: bold; margin: 16px 0; }
.red-pen { color: #b00020; font-weight: bold; }
.muted { color: #666; font-size: 12px; }
img { max-width: 320px; border: 1px solid #ccc; }
</style>
</head>
<body>
<h1>Bid Ticket</h1>
<p>Job {{.Job.ID}}</p>
<p class="muted">{{.Job.CreatedAt.Format "Jan 2, 2006"}}{{if .Job.ScopeType}} &middot; {{.Job.ScopeType}}{{end}}</p>
<p class="range">${{.Job.AILow}}&ndash;${{.Job.AIHigh}}</p>
{{if .Job.Description}}<p>{{.Job.Description}}</p>{{end}}
{{with .Job.Quote}}<p>Suggested price{{if $.Job.Lane}} ({{$.Job.Lane}}){{end}}: <strong>${{.SuggestedPrice}}</strong></p>
{{if .RedPen}}<p class="red-pen">Needs review before sending.</p>{{end}}{{end}}
{{with .Job.Media}}<img src="{{$.BaseURL}}{{.URL}}" alt="job media">{{end}}
<p class="muted">{{.Job.Notes}}{{if .Company}} &middot; {{.Company}}{{end}}</p>
</body>
</html>
`))

// Exporter writes bid tickets into the exports directory
type Exporter struct {
	dir       string
	urlPrefix string
	baseURL   string
	company   string
	renderer  PDFRenderer
}

// NewExporter creates an exporter. A nil renderer produces HTML tickets only.
func NewExporter(dir, baseURL, company string, renderer PDFRenderer) (*Exporter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create exports dir: %w", err)
	}

	return &Exporter{
		dir:       dir,
		urlPrefix: "/uploads/exports",
		baseURL:   baseURL,
		company:   company,
		renderer:  renderer,
	}, nil
}

// Dir returns the exports directory
func (e *Exporter) Dir() string {
	return e.dir
}

// RenderHTML renders the bid ticket document for a job
func (e *Exporter) RenderHTML(job *storage.Job) (string, error) {
	var buf bytes.Buffer
	err := bidTicketTemplate.Execute(&buf, struct {
		Job     *storage.Job
		BaseURL string
		Company string
	}{
		Job:     job,
		BaseURL: e.baseURL,
		Company: e.company,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render bid ticket: %w", err)
	}
	return buf.String(), nil
}

// Export writes the HTML ticket and tries to render a PDF next to it.
// When PDF rendering fails the HTML ticket is returned instead.
func (e *Exporter) Export(ctx context.Context, job *storage.Job) (*Result, error) {
	start := time.Now()
	defer func() {
		metrics.ExportDuration.Observe(time.Since(start).Seconds())
	}()

	html, err := e.RenderHTML(job)
	if err != nil {
		return nil, err
	}

	base := filepath.Base(job.ID)
	htmlName := base + ".html"
	if err := os.WriteFile(filepath.Join(e.dir, htmlName), []byte(html), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write bid ticket: %w", err)
	}

	result := &Result{Format: FormatHTML, URL: path.Join(e.urlPrefix, htmlName)}

	if e.renderer != nil {
		pdfName := base + ".pdf"
		pdf, err := e.renderer.RenderPDF(ctx, html)
		if err == nil {
			err = os.WriteFile(filepath.Join(e.dir, pdfName), pdf, 0o644)
		}
		if err != nil {
			slog.Warn("PDF export failed, falling back to HTML", "job_id", job.ID, "error", err)
		} else {
			result = &Result{Format: FormatPDF, URL: path.Join(e.urlPrefix, pdfName)}
		}
	}

	metrics.ExportsTotal.WithLabelValues(result.Format).Inc()
	return result, nil
}
