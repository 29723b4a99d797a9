package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/wolfman30/medspa-slot-booking/internal/bookingerr"
	"github.com/wolfman30/medspa-slot-booking/pkg/logging"
)

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error  string            `json:"error"`
	Code   string            `json:"code,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func jsonError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, errorResponse{Error: message})
}

// kindStatus maps core error kinds to a status and a message safe for patients.
var kindStatus = map[bookingerr.Kind]struct {
	status  int
	message string
}{
	bookingerr.KindSlotUnavailable:   {http.StatusConflict, "please pick another time"},
	bookingerr.KindInvalidResource:   {http.StatusBadRequest, "that appointment is not available"},
	bookingerr.KindInvalidTransition: {http.StatusConflict, "this booking can no longer be changed"},
	bookingerr.KindNotFound:          {http.StatusNotFound, "booking not found or expired"},
	bookingerr.KindRateLimited:       {http.StatusTooManyRequests, "too many attempts, try later"},
	bookingerr.KindCodeInvalid:       {http.StatusUnprocessableEntity, "incorrect or expired code"},
	bookingerr.KindCodeExpired:       {http.StatusUnprocessableEntity, "incorrect or expired code"},
	bookingerr.KindLockExpired:       {http.StatusGone, "your hold on this time expired, please start again"},
	bookingerr.KindConflict:          {http.StatusConflict, "booking was updated, please retry"},
}

// writeError renders err by kind. Internal failures are logged and replaced
// with a generic message so no store or driver text reaches the caller.
func writeError(w http.ResponseWriter, logger *logging.Logger, op string, err error) {
	kind := bookingerr.KindOf(err)
	if mapped, ok := kindStatus[kind]; ok {
		logger.Info("booking request rejected", "op", op, "kind", kind.String())
		writeJSON(w, mapped.status, errorResponse{Error: mapped.message, Code: kind.String()})
		return
	}
	logger.Error("booking request failed", "op", op, "error", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "something went wrong, please try again", Code: bookingerr.KindInternal.String()})
}

// writeValidation reports validator failures field by field.
func writeValidation(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		jsonError(w, "invalid request", http.StatusBadRequest)
		return
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[jsonFieldPath(fe.Namespace())] = fe.Tag()
	}
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request", Fields: fields})
}

// jsonFieldPath turns "reserveBody.contact.phone" into "contact.phone". Field
// names come from json tags via newValidator.
func jsonFieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}
