package responses

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	pkgerrors "github.com/angelmondragon/foodops-backend/pkg/errors"
	"github.com/angelmondragon/foodops-backend/pkg/logger"
	"github.com/angelmondragon/foodops-backend/pkg/types"
)

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, types.SuccessEnvelope{Data: data})
}

func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}

	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}

	meta := pkgerrors.MetadataFor(typed.Code())

	msg := meta.PublicMessage
	switch typed.Code() {
	case pkgerrors.CodeValidation,
		pkgerrors.CodeForbidden,
		pkgerrors.CodeUnauthorized,
		pkgerrors.CodeNotFound,
		pkgerrors.CodeConflict,
		pkgerrors.CodeStateConflict,
		pkgerrors.CodeLocked,
		pkgerrors.CodeIdempotency,
		pkgerrors.CodeRateLimit:
		if m := typed.Message(); m != "" {
			msg = m
		}
	}

	payload := types.ErrorEnvelope{
		Error: types.APIError{
			Code:      string(typed.Code()),
			Message:   msg,
			Retryable: meta.Retryable,
		},
	}

	details := typed.Details()
	if meta.DetailsAllowed && details != nil {
		payload.Error.Details = details
	}
	if secs, ok := retryAfterSeconds(details); ok {
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}

	if logg != nil {
		logError(ctx, logg, err, typed, meta)
	}

	writeJSON(w, meta.HTTPStatus, payload)
}

// logError keeps caller mistakes and lock contention out of the error stream:
// only 5xx responses are logged at Error.
func logError(ctx context.Context, logg *logger.Logger, err error, typed *pkgerrors.Error, meta pkgerrors.Metadata) {
	dump := pkgerrors.Dump(err)
	fields := map[string]any{
		"error":       dump.TopMessage,
		"error_code":  dump.Code,
		"http_status": meta.HTTPStatus,
	}
	if dump.PGCode != "" {
		fields["pg_code"] = dump.PGCode
		fields["pg_constraint"] = dump.PGConstraint
		fields["pg_table"] = dump.PGTable
		fields["pg_detail"] = dump.PGDetail
		fields["pg_transient"] = dump.PGTransient
	}
	if dm, ok := typed.Details().(map[string]any); ok {
		for _, key := range []string{"holder_id", "from", "to", "reference"} {
			if v, ok := dm[key]; ok {
				fields[key] = v
			}
		}
	}
	ctx = logg.WithFields(ctx, fields)

	switch {
	case meta.HTTPStatus >= http.StatusInternalServerError:
		ctx = logg.WithField(ctx, "error_chain", dump.Chain)
		logg.Error(ctx, "request.error", err)
	case typed.Code() == pkgerrors.CodeLocked:
		logg.Info(ctx, "request.contention")
	default:
		logg.Warn(ctx, "request.rejected")
	}
}

func retryAfterSeconds(details any) (int64, bool) {
	dm, ok := details.(map[string]any)
	if !ok {
		return 0, false
	}
	switch v := dm["remaining_seconds"].(type) {
	case int64:
		return v, v > 0
	case int:
		return int64(v), v > 0
	}
	return 0, false
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf(`{"level":"error","msg":"failed to encode response","err":"%v"}`, err)
	}
}
