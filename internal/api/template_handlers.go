package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/pkg/httputil"
)

// PreviewRequest is the body of POST /api/templates/{name}/preview.
type PreviewRequest struct {
	Variables map[string]string `json:"variables"`
}

// PreviewResponse is a rendered template plus the declared variables the
// caller did not supply.
type PreviewResponse struct {
	domain.RenderedContent
	Missing []string `json:"missing"`
}

// ListTemplates handles GET /api/templates.
func (h *Handlers) ListTemplates(w http.ResponseWriter, r *http.Request) {
	list, err := h.templates.List(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if list == nil {
		list = []domain.Template{}
	}
	httputil.OK(w, map[string]any{"templates": list, "total": len(list)})
}

// GetTemplate handles GET /api/templates/{name}.
func (h *Handlers) GetTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := h.templates.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, tpl)
}

// SaveTemplate handles PUT /api/templates/{name}. An existing template
// with the same name is overwritten.
func (h *Handlers) SaveTemplate(w http.ResponseWriter, r *http.Request) {
	var tpl domain.Template
	if !httputil.Decode(w, r, &tpl) {
		return
	}
	tpl.Name = chi.URLParam(r, "name")
	if err := h.templates.Save(r.Context(), &tpl); err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.OK(w, tpl)
}

// DeleteTemplate handles DELETE /api/templates/{name}.
func (h *Handlers) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := h.templates.Delete(r.Context(), chi.URLParam(r, "name")); err != nil {
		respondServiceError(w, err)
		return
	}
	httputil.NoContent(w)
}

// PreviewTemplate handles POST /api/templates/{name}/preview.
func (h *Handlers) PreviewTemplate(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if r.ContentLength != 0 && !httputil.Decode(w, r, &req) {
		return
	}
	content, missing, err := h.templates.Preview(r.Context(), chi.URLParam(r, "name"), req.Variables)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if missing == nil {
		missing = []string{}
	}
	httputil.OK(w, PreviewResponse{RenderedContent: content, Missing: missing})
}
