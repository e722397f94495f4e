package controllers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/fleetyard/shipcm/pkg/constants"
	"github.com/fleetyard/shipcm/pkg/httpapi"
	"github.com/fleetyard/shipcm/pkg/serrors"
)

type fieldErrorsEnvelope struct {
	Code   string                        `json:"code"`
	Fields map[string]*serrors.BaseError `json:"fields"`
}

// decodeBody unmarshals the request body into dst and runs struct validation.
// On failure it writes the error response itself and returns a non-nil error
// so the handler can bail.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		_ = httpapi.WriteError(w, http.StatusBadRequest, "CM_VALIDATION", "malformed request body", nil)
		return err
	}
	if err := constants.Validate.Struct(dst); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			fields := serrors.ProcessValidatorErrors(validationErrs, func(string) string { return "" })
			_ = httpapi.WriteJSON(w, http.StatusUnprocessableEntity, &fieldErrorsEnvelope{
				Code:   "CM_VALIDATION",
				Fields: fields,
			})
			return err
		}
		_ = httpapi.WriteError(w, http.StatusUnprocessableEntity, "CM_VALIDATION", err.Error(), nil)
		return err
	}
	return nil
}
