package reviewserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joelkehle/patent-review/internal/patentreview"
)

// Review modes stored alongside each record.
const (
	ModeTechReview = "tech_review"
	ModeSpecReview = "spec_review"
	ModeSpecGuide  = "spec_guide"
)

const maxUploadBytes = 32 << 20

// Runner executes review pipelines. Satisfied by *patentreview.Orchestrator.
type Runner interface {
	Run(ctx context.Context, req patentreview.ReviewRequest, stages []patentreview.StageSpec) (*patentreview.ReviewSession, error)
	RunDirect(ctx context.Context, req patentreview.ReviewRequest, spec patentreview.StageSpec, userText string) (*patentreview.ReviewSession, error)
	RunComparative(ctx context.Context, spec patentreview.StageSpec, applicationText, targetText string) (*patentreview.ReviewSession, error)
}

// FieldExtractor maps free disclosure text to a review request.
type FieldExtractor interface {
	FieldsFromText(ctx context.Context, text string) (patentreview.ReviewRequest, error)
}

// DocumentExtractor pulls plain text out of uploaded documents.
type DocumentExtractor interface {
	Extract(ctx context.Context, data []byte, mediaType string) (string, error)
}

// PDFRenderer turns report fields into a printable document.
type PDFRenderer interface {
	Render(ctx context.Context, templateName string, fields patentreview.ReportFields) ([]byte, error)
}

type Server struct {
	runner    Runner
	fields    FieldExtractor
	documents DocumentExtractor
	store     *Store
	renderer  PDFRenderer
}

func NewServer(runner Runner, fields FieldExtractor, documents DocumentExtractor, store *Store, renderer PDFRenderer) http.Handler {
	s := &Server{
		runner:    runner,
		fields:    fields,
		documents: documents,
		store:     store,
		renderer:  renderer,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/reviews", s.handleReviews)
	mux.HandleFunc("/v1/reviews/compare", s.handleCompare)
	mux.HandleFunc("/v1/reviews/guide", s.handleGuide)
	mux.HandleFunc("/v1/reviews/", s.handleReviewByToken)
	mux.HandleFunc("/v1/health", s.handleHealth)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeReviewError(w http.ResponseWriter, err error) {
	kind := patentreview.KindOf(err)
	stage := patentreview.StageNameFromError(err)
	payload := map[string]any{
		"ok": false,
		"error": map[string]any{
			"kind":    kind,
			"message": err.Error(),
		},
	}
	if stage != "" {
		payload["error"].(map[string]any)["stage"] = stage
	}
	writeJSON(w, patentreview.StatusForKind(kind), payload)
}

func methodOnly(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// requestFields reads invention fields from a JSON body, or extracts
// them from an uploaded document when the request is multipart.
func (s *Server) requestFields(r *http.Request) (patentreview.ReviewRequest, error) {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") {
		text, err := s.uploadText(r, "document")
		if err != nil {
			return patentreview.ReviewRequest{}, err
		}
		return s.fields.FieldsFromText(r.Context(), text)
	}

	var req struct {
		Fields map[string]string `json:"fields"`
	}
	blob, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	if err != nil {
		return patentreview.ReviewRequest{}, patentreview.NewError(patentreview.KindEmptyInput, "failed to read request body")
	}
	if err := json.Unmarshal(blob, &req); err != nil {
		return patentreview.ReviewRequest{}, patentreview.NewError(patentreview.KindEmptyInput, "request body must be JSON with a fields object")
	}
	return patentreview.ReviewRequest{Fields: req.Fields}, nil
}

func (s *Server) uploadText(r *http.Request, field string) (string, error) {
	if s.documents == nil {
		return "", patentreview.NewError(patentreview.KindUnsupportedFormat, "document extraction is not configured")
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return "", patentreview.NewError(patentreview.KindEmptyInput, "invalid multipart upload")
	}
	file, header, err := r.FormFile(field)
	if err != nil {
		return "", patentreview.NewError(patentreview.KindEmptyInput, fmt.Sprintf("upload field %q is required", field))
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		return "", patentreview.NewError(patentreview.KindEmptyInput, "failed to read upload")
	}
	mediaType := header.Header.Get("Content-Type")
	if mediaType == "" {
		mediaType = MediaTypeFromName(header.Filename)
	}
	return s.documents.Extract(r.Context(), data, mediaType)
}

// MediaTypeFromName guesses a media type from an upload filename.
func MediaTypeFromName(name string) string {
	if strings.HasSuffix(strings.ToLower(name), ".pdf") {
		return "application/pdf"
	}
	return "application/octet-stream"
}

func (s *Server) handleReviews(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateReview(w, r)
	case http.MethodGet:
		s.handleListReviews(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleCreateReview(w http.ResponseWriter, r *http.Request) {
	req, err := s.requestFields(r)
	if err != nil {
		writeReviewError(w, err)
		return
	}

	stages := patentreview.TechReviewStages()
	single := r.URL.Query().Get("stages") == "single"
	if single {
		stages = patentreview.SingleReviewStages()
	}

	started := time.Now()
	sess, err := s.runner.Run(r.Context(), req, stages)
	if err != nil {
		log.Printf("reviewserver review failed title=%q err=%v", req.Title(), err)
		writeReviewError(w, err)
		return
	}
	log.Printf("reviewserver review complete title=%q stages=%d took=%s", req.Title(), len(sess.Stages), time.Since(started).Round(time.Millisecond))

	// The single-stage run has no law hop, so there is no conclusion or
	// guidance to project; callers get the structured result only.
	if single {
		token, err := s.persist(r.Context(), ModeTechReview, req.Title(), sess.MergedResult(), patentreview.ReportFields{})
		if err != nil {
			writeReviewError(w, err)
			return
		}
		writeJSON(w, 200, map[string]any{
			"ok":     true,
			"token":  token,
			"result": sess.MergedResult(),
		})
		return
	}

	report, err := patentreview.ProjectReview(req, sess.MergedResult(), time.Now())
	if err != nil {
		writeReviewError(w, err)
		return
	}

	token, err := s.persist(r.Context(), ModeTechReview, req.Title(), sess.MergedResult(), report)
	if err != nil {
		writeReviewError(w, err)
		return
	}

	if r.URL.Query().Get("format") == "pdf" {
		s.servePDF(w, r, TemplateTechReview, report)
		return
	}
	writeJSON(w, 200, map[string]any{
		"ok":     true,
		"token":  token,
		"report": report,
		"result": sess.MergedResult(),
	})
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodPost) {
		return
	}

	applicationText, targetText, err := s.comparisonTexts(r)
	if err != nil {
		writeReviewError(w, err)
		return
	}

	sess, err := s.runner.RunComparative(r.Context(), patentreview.SpecComparisonStage(), applicationText, targetText)
	if err != nil {
		log.Printf("reviewserver comparison failed err=%v", err)
		writeReviewError(w, err)
		return
	}

	report, err := patentreview.ProjectComparison(sess.FinalResult(), time.Now())
	if err != nil {
		writeReviewError(w, err)
		return
	}

	token, err := s.persist(r.Context(), ModeSpecReview, "", sess.FinalResult(), report)
	if err != nil {
		writeReviewError(w, err)
		return
	}

	if r.URL.Query().Get("format") == "pdf" {
		s.servePDF(w, r, TemplateSpecReview, report)
		return
	}
	writeJSON(w, 200, map[string]any{
		"ok":     true,
		"token":  token,
		"report": report,
		"result": sess.FinalResult(),
	})
}

func (s *Server) comparisonTexts(r *http.Request) (string, string, error) {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") {
		applicationText, err := s.uploadText(r, "application")
		if err != nil {
			return "", "", err
		}
		targetText, err := s.uploadText(r, "target")
		if err != nil {
			return "", "", err
		}
		return applicationText, targetText, nil
	}

	var req struct {
		Application string `json:"application"`
		Target      string `json:"target"`
	}
	blob, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	if err != nil {
		return "", "", patentreview.NewError(patentreview.KindEmptyInput, "failed to read request body")
	}
	if err := json.Unmarshal(blob, &req); err != nil {
		return "", "", patentreview.NewError(patentreview.KindEmptyInput, "request body must be JSON with application and target")
	}
	return req.Application, req.Target, nil
}

func (s *Server) handleGuide(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodPost) {
		return
	}

	var text string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		extracted, err := s.uploadText(r, "document")
		if err != nil {
			writeReviewError(w, err)
			return
		}
		text = extracted
	} else {
		var req struct {
			Text string `json:"text"`
		}
		blob, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
		if err != nil {
			writeReviewError(w, patentreview.NewError(patentreview.KindEmptyInput, "failed to read request body"))
			return
		}
		if err := json.Unmarshal(blob, &req); err != nil {
			writeReviewError(w, patentreview.NewError(patentreview.KindEmptyInput, "request body must be JSON with a text field"))
			return
		}
		text = req.Text
	}

	sess, err := s.runner.RunDirect(r.Context(), patentreview.ReviewRequest{}, patentreview.SpecGuideStage(), text)
	if err != nil {
		log.Printf("reviewserver guide failed err=%v", err)
		writeReviewError(w, err)
		return
	}

	token, err := s.persist(r.Context(), ModeSpecGuide, "", sess.FinalResult(), patentreview.ReportFields{})
	if err != nil {
		writeReviewError(w, err)
		return
	}
	writeJSON(w, 200, map[string]any{
		"ok":     true,
		"token":  token,
		"result": sess.FinalResult(),
	})
}

func (s *Server) handleListReviews(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, 200, map[string]any{"reviews": []any{}})
		return
	}
	records, err := s.store.Recent(r.Context(), 50)
	if err != nil {
		writeReviewError(w, err)
		return
	}
	summaries := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		summaries = append(summaries, map[string]any{
			"token":      rec.Token,
			"mode":       rec.Mode,
			"title":      rec.Title,
			"created_at": rec.CreatedAt,
		})
	}
	writeJSON(w, 200, map[string]any{"reviews": summaries})
}

func (s *Server) handleReviewByToken(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/v1/reviews/")
	token := rest
	wantPDF := false
	if strings.HasSuffix(rest, "/pdf") {
		token = strings.TrimSuffix(rest, "/pdf")
		wantPDF = true
	}
	token = strings.TrimSuffix(token, "/")
	if token == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if s.store == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	rec, err := s.store.Get(r.Context(), token)
	if err != nil {
		writeReviewError(w, err)
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "error": map[string]any{"kind": "not_found", "message": "review not found"}})
		return
	}

	if wantPDF {
		report, err := rec.ReportFields()
		if err != nil {
			writeReviewError(w, err)
			return
		}
		tmpl := TemplateTechReview
		if rec.Mode == ModeSpecReview {
			tmpl = TemplateSpecReview
		}
		s.servePDF(w, r, tmpl, report)
		return
	}

	var result patentreview.StructuredResult
	_ = json.Unmarshal([]byte(rec.ResultJSON), &result)
	report, _ := rec.ReportFields()
	writeJSON(w, 200, map[string]any{
		"ok":         true,
		"token":      rec.Token,
		"mode":       rec.Mode,
		"title":      rec.Title,
		"created_at": rec.CreatedAt,
		"result":     result,
		"report":     report,
	})
}

func (s *Server) servePDF(w http.ResponseWriter, r *http.Request, templateName string, fields patentreview.ReportFields) {
	if s.renderer == nil {
		writeReviewError(w, patentreview.NewError(patentreview.KindUnsupportedFormat, "pdf rendering is not configured"))
		return
	}
	pdf, err := s.renderer.Render(r.Context(), templateName, fields)
	if err != nil {
		log.Printf("reviewserver pdf render failed template=%s err=%v", templateName, err)
		writeReviewError(w, patentreview.WrapError(patentreview.KindExtractionFailed, "pdf rendering failed", err))
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="report.pdf"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

func (s *Server) persist(ctx context.Context, mode, title string, result patentreview.StructuredResult, report patentreview.ReportFields) (string, error) {
	token := uuid.NewString()
	if s.store == nil {
		return token, nil
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	reportJSON := []byte("")
	if report.ReportName != "" {
		reportJSON, err = json.Marshal(report)
		if err != nil {
			return "", fmt.Errorf("encode report: %w", err)
		}
	}
	rec := ReviewRecord{
		Token:      token,
		Mode:       mode,
		Title:      title,
		CreatedAt:  time.Now().UTC(),
		ResultJSON: string(resultJSON),
		ReportJSON: string(reportJSON),
	}
	if err := s.store.Save(ctx, rec); err != nil {
		log.Printf("reviewserver persist failed token=%s err=%v", token, err)
		return "", err
	}
	return token, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, 200, map[string]any{"ok": true, "time": time.Now().UTC().Format(time.RFC3339)})
}
