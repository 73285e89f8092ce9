package handler

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/dinder/session-server-go/internal/errors"
	"github.com/dinder/session-server-go/internal/httputil"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}

// decodeJSON reads a request body into dst, reporting syntax problems as
// invalid input.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperrors.InvalidInput("body", err.Error())
	}
	return nil
}
