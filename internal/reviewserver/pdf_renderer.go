package reviewserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"html/template"
	"os"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/joelkehle/patent-review/internal/patentreview"
)

// Template references accepted by Render.
const (
	TemplateTechReview = "tech_review"
	TemplateSpecReview = "spec_review"
)

const reportStyleCSS = `
body{font-family:Georgia,serif;color:#1c1917;margin:0;padding:0.6rem;}
.report{max-width:960px;margin:0 auto;border-left:3px solid #92400e;border-right:3px solid #92400e;padding:0 0.9rem;}
h1{font-size:1.4rem;border-bottom:2px solid #92400e;padding-bottom:0.4rem;}
h2{font-size:1.05rem;margin-top:1.4rem;}
.meta{color:#44403c;font-size:0.85rem;margin-bottom:1rem;}
.meta strong{color:#1c1917;}
table{width:100%;border-collapse:collapse;border:1px solid #a8a29e;font-size:0.8rem;}
th,td{border:1px solid #a8a29e;padding:0.35rem 0.45rem;text-align:left;vertical-align:top;}
thead th{background:#f1f5f9;font-weight:700;}
.prose{font-size:0.9rem;line-height:1.5;}
.disclaimer{margin-top:2rem;color:#78350f;background:#fef3c7;border:1px solid #fcd34d;padding:0.5rem;font-size:0.75rem;}
`

const techReviewHTML = `<!doctype html><html><head><meta charset="utf-8"><title>{{.ReportName}}</title>
<style>{{.Style}}</style></head><body><div class="report">
<h1>{{.Fields.ReportName}}</h1>
<div class="meta">
{{if .Fields.Title}}<div><strong>Invention:</strong> {{.Fields.Title}}</div>{{end}}
{{if .Fields.Organization}}<div><strong>Organization:</strong> {{.Fields.Organization}}</div>{{end}}
{{if .Fields.SubmittedDate}}<div><strong>Submitted:</strong> {{.Fields.SubmittedDate}}</div>{{end}}
<div><strong>Date:</strong> {{.Fields.ReportDate}}</div>
</div>
<h2>Summary</h2><div class="prose">{{.Summary}}</div>
<h2>Verdict</h2><div class="prose">{{.Fields.Verdict}}</div>
<h2>Similar Prior Patents</h2>
{{if .Fields.SimilarPatents}}<table><thead><tr><th>Registration</th><th>Name</th><th>Analysis</th></tr></thead><tbody>
{{range .Fields.SimilarPatents}}<tr><td>{{.Registration}}</td><td>{{.Name}}</td><td>{{.Analysis}}</td></tr>{{end}}
</tbody></table>{{else}}<div class="prose">No similar prior patents were identified.</div>{{end}}
{{if .Opinion}}<h2>Review Opinion</h2><div class="prose">{{.Opinion}}</div>{{end}}
<h2>Legal Conclusion</h2><div class="prose">{{.Conclusion}}</div>
<h2>Guidance</h2><div class="prose">{{.Guidance}}</div>
<div class="disclaimer">{{.Fields.Disclaimer}}</div>
</div></body></html>`

const specReviewHTML = `<!doctype html><html><head><meta charset="utf-8"><title>{{.ReportName}}</title>
<style>{{.Style}}</style></head><body><div class="report">
<h1>{{.Fields.ReportName}}</h1>
<div class="meta"><div><strong>Date:</strong> {{.Fields.ReportDate}}</div></div>
<h2>Claim Review</h2><div class="prose">{{.Claims}}</div>
<h2>Conclusion</h2><div class="prose">{{.Conclusion}}</div>
<div class="disclaimer">{{.Fields.Disclaimer}}</div>
</div></body></html>`

// ChromiumPDFRenderer renders report fields to PDF through headless
// Chromium. Prose fields are treated as markdown.
type ChromiumPDFRenderer struct {
	chromePath string
	techTmpl   *template.Template
	specTmpl   *template.Template
}

func NewChromiumPDFRenderer() *ChromiumPDFRenderer {
	return &ChromiumPDFRenderer{
		chromePath: detectChromePath(),
		techTmpl:   template.Must(template.New(TemplateTechReview).Parse(techReviewHTML)),
		specTmpl:   template.Must(template.New(TemplateSpecReview).Parse(specReviewHTML)),
	}
}

func (r *ChromiumPDFRenderer) Render(ctx context.Context, templateName string, fields patentreview.ReportFields) ([]byte, error) {
	htmlDoc, err := r.buildHTML(templateName, fields)
	if err != nil {
		return nil, err
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
	}
	if r.chromePath != "" {
		opts = append(opts, chromedp.ExecPath(r.chromePath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(timeoutCtx, append(chromedp.DefaultExecAllocatorOptions[:], opts...)...)
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	var pdf []byte
	dataURL := "data:text/html;base64," + base64.StdEncoding.EncodeToString([]byte(htmlDoc))
	if err := chromedp.Run(taskCtx,
		chromedp.Navigate(dataURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			footer := `<div style="width:100%;text-align:center;font-size:9px;color:#666;">` +
				`Page <span class="pageNumber"></span> of <span class="totalPages"></span></div>`
			out, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithDisplayHeaderFooter(true).
				WithHeaderTemplate(`<div></div>`).
				WithFooterTemplate(footer).
				WithPaperWidth(8.27).
				WithPaperHeight(11.69).
				WithMarginTop(0.5).
				WithMarginBottom(0.75).
				WithMarginLeft(0.45).
				WithMarginRight(0.45).
				Do(ctx)
			if err != nil {
				return err
			}
			pdf = out
			return nil
		}),
	); err != nil {
		return nil, err
	}
	return pdf, nil
}

type reportPage struct {
	ReportName string
	Style      template.CSS
	Fields     patentreview.ReportFields
	Summary    template.HTML
	Opinion    template.HTML
	Conclusion template.HTML
	Guidance   template.HTML
	Claims     template.HTML
}

func (r *ChromiumPDFRenderer) buildHTML(templateName string, fields patentreview.ReportFields) (string, error) {
	data := reportPage{
		ReportName: fields.ReportName,
		Style:      template.CSS(reportStyleCSS),
		Fields:     fields,
		Summary:    renderMarkdown(fields.Summary),
		Opinion:    renderMarkdown(fields.Opinion),
		Conclusion: renderMarkdown(fields.Conclusion),
		Guidance:   renderMarkdown(fields.Guidance),
		Claims:     renderMarkdown(fields.Claims),
	}

	var tmpl *template.Template
	switch templateName {
	case TemplateTechReview:
		tmpl = r.techTmpl
	case TemplateSpecReview:
		tmpl = r.specTmpl
	default:
		return "", fmt.Errorf("unknown report template %q", templateName)
	}
	var out bytes.Buffer
	if err := tmpl.Execute(&out, data); err != nil {
		return "", fmt.Errorf("render report template: %w", err)
	}
	return out.String(), nil
}

func renderMarkdown(s string) template.HTML {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	var out bytes.Buffer
	if err := md.Convert([]byte(s), &out); err != nil {
		return template.HTML(template.HTMLEscapeString(s))
	}
	return template.HTML(out.String())
}

func detectChromePath() string {
	candidates := []string{
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/usr/bin/google-chrome",
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
