package validators

import (
	"net/http"
	"strconv"
	"strings"

	pkgerrors "github.com/angelmondragon/foodops-backend/pkg/errors"
)

// ParseQueryInt reads an optional bounded integer such as a sweep batch size.
func ParseQueryInt(r *http.Request, key string, defaultVal, min, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return defaultVal, nil
	}
	value, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "query parameter must be an integer").
			WithDetails(map[string]any{"field": key, "value": raw})
	}
	if int(value) < min || int(value) > max {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "query parameter out of range").
			WithDetails(map[string]any{"field": key, "value": value, "min": min, "max": max})
	}
	return int(value), nil
}
