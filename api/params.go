package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

const (
	defaultListLimit = 50
	maxListLimit     = 100
	defaultRunsLimit = 20

	defaultCleanupHours = 24
	maxCleanupHours     = 168

	maxBatchSize = 100

	maxJSONBody = 1 << 20
)

// errParam reports a malformed query or form value.
type errParam struct {
	name string
	msg  string
}

func (e *errParam) Error() string {
	return fmt.Sprintf("%s %s", e.name, e.msg)
}

// intParam reads an integer query parameter in [min, max]. A missing value
// yields def.
func intParam(r *http.Request, name string, def, min, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	return parseBounded(name, raw, min, max)
}

func parseBounded(name, raw string, min, max int) (int, error) {
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &errParam{name, "must be an integer"}
	}
	if v < min || v > max {
		return 0, &errParam{name, fmt.Sprintf("must be between %d and %d", min, max)}
	}
	return v, nil
}

// boolValue parses a form flag. Empty yields def.
func boolValue(name, raw string, def bool) (bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	switch strings.ToLower(raw) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, &errParam{name, "must be a boolean"}
}

// decodeJSON reads a size-limited JSON body into v, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// writeParamErr writes a 400 for a parameter or body problem.
func writeParamErr(w http.ResponseWriter, err error) {
	var perr *errParam
	if errors.As(err, &perr) {
		writeError(w, http.StatusBadRequest, CodeInvalidParam, perr.Error())
		return
	}
	writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
}
