package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/nikhilbhutani/courseassist/internal/document"
	"github.com/nikhilbhutani/courseassist/internal/tenant"
)

type QuestionService interface {
	SubmitQuestion(ctx context.Context, courseID, question string) (*document.QuestionResult, error)
}

type QuestionHandler struct {
	svc QuestionService
}

func NewQuestionHandler(svc QuestionService) *QuestionHandler {
	return &QuestionHandler{svc: svc}
}

type askRequest struct {
	Question string `json:"question"`
}

// Ask retrieves course context for a question and, when generation is
// configured, the forwarded answer.
func (h *QuestionHandler) Ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	res, err := h.svc.SubmitQuestion(r.Context(), tenant.CourseFromContext(r.Context()), req.Question)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}
