package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gridpulse/gridpulse/pkg/balance"
	"github.com/gridpulse/gridpulse/pkg/errkind"
	"github.com/gridpulse/gridpulse/pkg/ingest"
	"github.com/gridpulse/gridpulse/pkg/storage"
)

// rangeQuery parses the start/end/scope triple every read endpoint takes.
func rangeQuery(r *http.Request) (start, end time.Time, scope balance.TimeScope, err error) {
	q := r.URL.Query()
	req, err := ingest.ParseRequest(q.Get("start"), q.Get("end"), orDefault(q.Get("scope"), "day"), false)
	if err != nil {
		return time.Time{}, time.Time{}, "", err
	}
	return req.Start, req.End, req.Scope, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var e *errkind.Error
	if errors.As(err, &e) {
		switch e.Kind {
		case errkind.InvalidRange, errkind.InvalidTimeScope:
			status = http.StatusBadRequest
		case errkind.FetchExhausted, errkind.NetworkError, errkind.NetworkTimeout:
			status = http.StatusBadGateway
		}
	}
	http.Error(w, err.Error(), status)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(s.Scheduler.Status())
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	start, end, scope, err := rangeQuery(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	skip, _ := strconv.Atoi(q.Get("skip"))

	records, err := s.DB.FindInRange(r.Context(), start, end, scope, storage.FindOptions{
		Limit: limit,
		Skip:  skip,
		Desc:  q.Get("sort") == "desc",
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	json.NewEncoder(w).Encode(records)
}

func (s *Server) handleAggregate(w http.ResponseWriter, r *http.Request) {
	start, end, scope, err := rangeQuery(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	agg, err := s.Engine.Aggregate(r.Context(), start, end, scope)
	if err != nil {
		writeErr(w, err)
		return
	}
	json.NewEncoder(w).Encode(agg)
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	start, end, scope, err := rangeQuery(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	indicator := orDefault(r.URL.Query().Get("indicator"), "totalGeneration")
	report, err := s.Engine.Analyze(r.Context(), indicator, start, end, scope)
	if err != nil {
		writeErr(w, err)
		return
	}
	json.NewEncoder(w).Encode(report)
}

func (s *Server) handleCorrelation(w http.ResponseWriter, r *http.Request) {
	start, end, scope, err := rangeQuery(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	q := r.URL.Query()
	a := orDefault(q.Get("a"), "totalGeneration")
	b := orDefault(q.Get("b"), "totalDemand")
	corr, err := s.Engine.Correlate(r.Context(), a, b, start, end, scope)
	if err != nil {
		writeErr(w, err)
		return
	}
	json.NewEncoder(w).Encode(corr)
}

func (s *Server) handleSustainability(w http.ResponseWriter, r *http.Request) {
	start, end, scope, err := rangeQuery(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	report, err := s.Engine.Sustainability(r.Context(), start, end, scope)
	if err != nil {
		writeErr(w, err)
		return
	}
	json.NewEncoder(w).Encode(report)
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	scope, err := balance.ParseTimeScope(orDefault(q.Get("scope"), "day"))
	if err != nil {
		writeErr(w, err)
		return
	}
	cur, err := ingest.ParseRequest(q.Get("start"), q.Get("end"), string(scope), false)
	if err != nil {
		writeErr(w, err)
		return
	}
	prev, err := ingest.ParseRequest(q.Get("prev_start"), q.Get("prev_end"), string(scope), false)
	if err != nil {
		writeErr(w, err)
		return
	}

	cmp, err := s.Engine.Compare(r.Context(), cur.Start, cur.End, prev.Start, prev.End, scope)
	if err != nil {
		writeErr(w, err)
		return
	}
	json.NewEncoder(w).Encode(cmp)
}

type fetchRequest struct {
	Start string `json:"start"`
	End   string `json:"end"`
	Scope string `json:"scope"`
	Force bool   `json:"force"`
}

// handleFetch triggers a manual ingestion through the scheduler so the
// single-flight guard still applies.
func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	parsed, err := ingest.ParseRequest(req.Start, req.End, orDefault(req.Scope, "day"), req.Force)
	if err != nil {
		writeErr(w, err)
		return
	}

	res, err := s.Scheduler.FetchNow(r.Context(), parsed)
	if err != nil {
		writeErr(w, err)
		return
	}
	json.NewEncoder(w).Encode(res)
}
