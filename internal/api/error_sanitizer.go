package api

import (
	"errors"
	"net/http"

	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/pkg/httputil"
	"github.com/ignite/mailflow/internal/service/campaign"
	templatesvc "github.com/ignite/mailflow/internal/service/template"
)

// respondServiceError maps service sentinel errors to status codes. Anything
// unrecognised is a 500 whose details stay in the log.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, campaign.ErrNotFound), errors.Is(err, templatesvc.ErrNotFound):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, campaign.ErrAlreadySending),
		errors.Is(err, campaign.ErrStatusConflict),
		errors.Is(err, campaign.ErrNotEditable),
		errors.Is(err, domain.ErrInvalidTransition):
		httputil.Conflict(w, err.Error())
	case errors.Is(err, templatesvc.ErrUndeclaredVariables),
		errors.Is(err, campaign.ErrTemplateFailed):
		httputil.UnprocessableEntity(w, err.Error(), nil)
	case errors.Is(err, campaign.ErrInvalidInput),
		errors.Is(err, templatesvc.ErrInvalidTemplate),
		errors.Is(err, domain.ErrInvalidMessage):
		httputil.BadRequest(w, err.Error())
	default:
		httputil.InternalError(w, err)
	}
}
