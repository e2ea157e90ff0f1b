package tenant

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

func TestCourseContext(t *testing.T) {
	assert.Empty(t, CourseFromContext(context.Background()))
	assert.Equal(t, "CS009A", CourseFromContext(WithCourse(context.Background(), "CS009A")))
}

func TestScope(t *testing.T) {
	r := chi.NewRouter()
	r.With(Scope).Get("/courses/{"+CourseParam+"}/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(CourseFromContext(r.Context())))
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/courses/CS009A/ping", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "CS009A", rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/courses/%20/ping", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
