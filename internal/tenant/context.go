package tenant

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// CourseParam is the route parameter that carries the course id.
const CourseParam = "courseID"

type contextKey string

const courseKey contextKey = "course"

// WithCourse scopes ctx to courseID.
func WithCourse(ctx context.Context, courseID string) context.Context {
	return context.WithValue(ctx, courseKey, courseID)
}

// CourseFromContext returns the course ctx is scoped to, "" when unscoped.
func CourseFromContext(ctx context.Context) string {
	id, _ := ctx.Value(courseKey).(string)
	return id
}

// Scope reads the course id from the route and puts it in the request
// context. Requests without a usable course id never reach next.
func Scope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		courseID := strings.TrimSpace(chi.URLParam(r, CourseParam))
		if courseID == "" || strings.ContainsAny(courseID, `/\`) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "course id required"})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCourse(r.Context(), courseID)))
	})
}
