package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-shop-checkout/internal/apperr"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"net/http"
	"reflect"
	"strings"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// decode reads a JSON body into v and validates it.
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid json: %w", apperr.ErrValidation)
	}
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid %s: %w", strings.Join(fields, ", "), apperr.ErrValidation)
		}
		return fmt.Errorf("%v: %w", err, apperr.ErrValidation)
	}
	return nil
}

// statusFor maps an error kind to an HTTP status. unavailable differs per
// endpoint so the caller passes it in.
func statusFor(err error, unavailable int) int {
	switch apperr.Kind(err) {
	case apperr.ErrNotFound:
		return http.StatusNotFound
	case apperr.ErrValidation, apperr.ErrVerificationFailed, apperr.ErrAmountMismatch:
		return http.StatusBadRequest
	case apperr.ErrInsufficientStock, apperr.ErrStateConflict:
		return http.StatusConflict
	case apperr.ErrTransactionUnverified:
		return http.StatusBadGateway
	case apperr.ErrUnavailable:
		return unavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, log *zap.Logger, err error, unavailable int) {
	code := statusFor(err, unavailable)
	if code == http.StatusInternalServerError {
		log.Error("request failed", zap.Error(err))
		writeJSON(w, code, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
