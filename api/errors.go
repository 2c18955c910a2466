package api

import (
	"encoding/json"
	"net/http"

	"github.com/kuutamolabs/kld/errs"
)

// errorBody is spec §6's REST error shape: { "status": "<HTTP status>",
// "detail": "<message>" }.
type errorBody struct {
	Status string `json:"status"`
	Detail string `json:"detail"`
}

// writeError translates err through the errs taxonomy to an HTTP status,
// per spec §7's "REST responses carry HTTP status codes aligned with the
// taxonomy".
func writeError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	status := kind.HTTPStatus()
	if kind == errs.Internal {
		log.Warnf("internal error: %v", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{
		Status: http.StatusText(status),
		Detail: err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("encoding response body: %v", err)
	}
}
