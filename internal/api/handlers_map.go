package api

import (
	"encoding/json"
	"net/http"

	"github.com/dgallion1/docaudit/internal/extract"
	"github.com/dgallion1/docaudit/internal/highlight"
	"github.com/dgallion1/docaudit/internal/parser"
)

type mapRequest struct {
	Findings []extract.Finding   `json:"findings"`
	Tokens   parser.TokenPayload `json:"tokens"`
}

// handleMap places already-known findings on pages described by a token
// payload. Nothing is stored.
func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	var req mapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Tokens.TextTokens) == 0 && len(req.Tokens.Pages) == 0 {
		jsonError(w, "tokens are required", http.StatusBadRequest)
		return
	}
	for i := range req.Findings {
		if req.Findings[i].ID == "" {
			jsonError(w, "every finding needs an id", http.StatusBadRequest)
			return
		}
	}

	doc := parser.PagesFromTokens(req.Tokens)
	rep, err := s.orchestrator.Services().Mapper.MapFindings(r.Context(), req.Findings, doc)
	if err != nil {
		jsonError(w, "mapping interrupted: "+err.Error(), http.StatusServiceUnavailable)
		return
	}
	s.metrics.Findings(len(req.Findings)-len(rep.Unmapped), len(rep.Unmapped))

	writeJSON(w, http.StatusOK, map[string]any{
		"regions":             nonNil(rep.Regions),
		"unmapped":            nonNil(rep.Unmapped),
		"rejected":            nonNil(rep.Rejected),
		"links":               nonNil(highlight.BuildLinks(req.Findings, rep.Regions)),
		"token_intersections": rep.TokenIntersections,
	})
}
