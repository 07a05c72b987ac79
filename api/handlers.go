package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/poiesic/trendwire/analysis"
	"github.com/poiesic/trendwire/core"
	"github.com/poiesic/trendwire/ingestion"
	"github.com/poiesic/trendwire/normalize"
)

// RecordBody is one raw record in a submission.
type RecordBody struct {
	ItemRef     string    `json:"item_ref"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	PublishedAt time.Time `json:"published_at"`
	Category    string    `json:"category"`
}

// SubmitBody submits raw records from one source.
type SubmitBody struct {
	SourceType string       `json:"source_type"`
	SourceRef  string       `json:"source_ref"`
	Records    []RecordBody `json:"records"`
}

// SubmitResponse reports what happened to a submission.
type SubmitResponse struct {
	Received   int `json:"received"`
	Malformed  int `json:"malformed"`
	Duplicates int `json:"duplicates"`
	Enqueued   int `json:"enqueued"`
	Failed     int `json:"failed"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body SubmitBody
	if !s.decode(w, r, &body) {
		return
	}
	st, err := core.ParseSourceType(body.SourceType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(body.SourceRef) == "" {
		writeError(w, http.StatusBadRequest, "source_ref is required")
		return
	}

	records := make([]normalize.RawRecord, len(body.Records))
	for i, rec := range body.Records {
		records[i] = normalize.RawRecord{
			SourceRef:    body.SourceRef,
			ItemRef:      rec.ItemRef,
			Title:        rec.Title,
			Body:         rec.Body,
			PublishedAt:  rec.PublishedAt,
			CategoryHint: rec.Category,
		}
	}

	summary, err := s.deps.Ingester.Ingest(r.Context(), st, body.SourceRef, records)
	if err != nil && summary.Enqueued == 0 && summary.Failed == 0 {
		s.fail(w, r, err)
		return
	}
	if err != nil {
		s.logger.Warn("submission partially failed", "source", body.SourceRef, "err", err)
	}
	writeJSON(w, http.StatusAccepted, submitResponse(summary))
}

func submitResponse(s ingestion.Summary) SubmitResponse {
	return SubmitResponse{
		Received:   s.Received,
		Malformed:  s.Malformed,
		Duplicates: s.Duplicates,
		Enqueued:   s.Enqueued,
		Failed:     s.Failed,
	}
}

// TaskView is the public form of a task record.
type TaskView struct {
	ID        string    `json:"id"`
	Class     string    `json:"class"`
	Key       string    `json:"key"`
	Status    string    `json:"status"`
	Attempts  int       `json:"attempts"`
	Error     string    `json:"error,omitempty"`
	Result    any       `json:"result,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func taskView(rec *core.TaskRecord) TaskView {
	v := TaskView{
		ID:        rec.ID,
		Class:     string(rec.Class),
		Key:       rec.IdempotenceKey,
		Status:    string(rec.Status),
		Attempts:  rec.AttemptCount,
		Error:     rec.Error,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	if len(rec.Result) > 0 {
		if json.Valid(rec.Result) {
			v.Result = json.RawMessage(rec.Result)
		} else {
			v.Result = string(rec.Result)
		}
	}
	return v
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Tasks.Status(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, taskView(rec))
}

// AnalysisBody requests an analysis. Window defaults to the engine's look-back
// ending now; Since and Until override it.
type AnalysisBody struct {
	Category    string     `json:"category"`
	Query       string     `json:"query"`
	Window      string     `json:"window"`
	Since       *time.Time `json:"since"`
	Until       *time.Time `json:"until"`
	RequestedBy string     `json:"requested_by"`
}

// AnalysisResponse identifies a submitted analysis. The report is available
// under ReportID once the task succeeds.
type AnalysisResponse struct {
	RequestID string `json:"request_id"`
	TaskID    string `json:"task_id"`
	ReportID  string `json:"report_id"`
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	var body AnalysisBody
	if !s.decode(w, r, &body) {
		return
	}
	scope := core.AnalysisScope{
		Category: strings.ToLower(strings.TrimSpace(body.Category)),
		Query:    strings.TrimSpace(body.Query),
	}
	req := s.deps.Analyzer.NewRequest(scope, body.RequestedBy)

	if body.Window != "" {
		d, err := time.ParseDuration(body.Window)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "window must be a positive duration such as 72h")
			return
		}
		req.Window.Start = req.Window.End.Add(-d)
	}
	if body.Until != nil {
		req.Window.End = body.Until.UTC()
	}
	if body.Since != nil {
		req.Window.Start = body.Since.UTC()
	}

	payload, err := analysis.EncodeRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	taskID, err := s.deps.Tasks.Enqueue(r.Context(), core.TaskAnalysis, analysis.TaskKey(req.RequestID), payload)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, AnalysisResponse{RequestID: req.RequestID, TaskID: taskID, ReportID: req.RequestID})
}

// TrendView is one trend of a report.
type TrendView struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Importance  string `json:"importance,omitempty"`
	References  []int  `json:"references,omitempty"`
}

// ReportView is the public form of an analysis report.
type ReportView struct {
	RequestID    string      `json:"request_id"`
	Category     string      `json:"category,omitempty"`
	Query        string      `json:"query,omitempty"`
	Headline     string      `json:"headline"`
	Trends       []TrendView `json:"trends"`
	Summary      string      `json:"summary"`
	RawText      string      `json:"raw_text,omitempty"`
	Supporting   []string    `json:"supporting_fingerprints"`
	GeneratedAt  time.Time   `json:"generated_at"`
	ProviderUsed string      `json:"provider_used"`
	Degraded     bool        `json:"degraded"`
}

func reportView(rep *core.AnalysisReport) ReportView {
	v := ReportView{
		RequestID:    rep.RequestID,
		Category:     rep.Scope.Category,
		Query:        rep.Scope.Query,
		Headline:     rep.Headline,
		Trends:       make([]TrendView, 0, len(rep.Trends)),
		Summary:      rep.SummaryText,
		Supporting:   make([]string, 0, len(rep.SupportingFingerprints)),
		GeneratedAt:  rep.GeneratedAt,
		ProviderUsed: rep.ProviderUsed,
		Degraded:     rep.Degraded,
	}
	if rep.Degraded {
		v.RawText = rep.RawText
	}
	for _, t := range rep.Trends {
		v.Trends = append(v.Trends, TrendView{Title: t.Title, Description: t.Description, Importance: t.Importance, References: t.References})
	}
	for _, fp := range rep.SupportingFingerprints {
		v.Supporting = append(v.Supporting, string(fp))
	}
	return v
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	rep, err := s.deps.Reports.GetReport(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reportView(rep))
}

// SubscriptionBody creates or replaces a subscription.
type SubscriptionBody struct {
	Categories []string `json:"categories"`
	Cadence    string   `json:"cadence"`
}

// SubscriptionView is the public form of a subscription.
type SubscriptionView struct {
	SubscriberID string     `json:"subscriber_id"`
	Categories   []string   `json:"categories"`
	Cadence      string     `json:"cadence"`
	LastSentAt   *time.Time `json:"last_sent_at,omitempty"`
}

func (s *Server) handlePutSubscription(w http.ResponseWriter, r *http.Request) {
	var body SubscriptionBody
	if !s.decode(w, r, &body) {
		return
	}
	cadence, err := core.ParseCadence(body.Cadence)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	now := s.now().UTC()
	sub := &core.Subscription{
		SubscriberID: mux.Vars(r)["id"],
		Categories:   core.NormalizeCategories(body.Categories),
		Cadence:      cadence,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if len(sub.Categories) == 0 {
		writeError(w, http.StatusBadRequest, "at least one category is required")
		return
	}
	if err := s.deps.Subscriptions.UpsertSubscription(r.Context(), sub); err != nil {
		s.fail(w, r, err)
		return
	}

	stored, err := s.deps.Subscriptions.GetSubscription(r.Context(), sub.SubscriberID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	v := SubscriptionView{
		SubscriberID: stored.SubscriberID,
		Categories:   stored.Categories,
		Cadence:      stored.Cadence.String(),
	}
	if !stored.LastSentAt.IsZero() {
		v.LastSentAt = &stored.LastSentAt
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Subscriptions.DeleteSubscription(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
