// Package catalog serves problems with their full test suites, hidden
// fixtures included. Callers blank hidden fixtures before responding.
package catalog

import (
	"context"
	"regexp"

	"github.com/itstheanurag/codemare/internal/apperr"
	"github.com/itstheanurag/codemare/internal/models"
)

type Catalog interface {
	List(ctx context.Context) ([]models.ProblemSummary, error)
	Get(ctx context.Context, id string) (*models.Problem, error)
}

var problemID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

func notFound() error {
	return apperr.Newf(apperr.NotFound, "Problem not found")
}

// validID rejects ids that could not name a problem, path separators included.
func validID(id string) bool {
	return problemID.MatchString(id)
}
