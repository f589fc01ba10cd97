package usecase

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"lambda-agent/internal/domain"
)

// responseClock stamps X-Response-Time; replaced in tests.
var responseClock = time.Now

// FormatResponse builds the envelope returned to the Lambda runtime. The body
// is {"success": success, ...data, "error": errMsg}; error is omitted when
// errMsg is empty and a "success" key in data is ignored.
func FormatResponse(success bool, data map[string]any, errMsg string, status int) domain.Envelope {
	body := make(map[string]any, len(data)+2)
	for k, v := range data {
		body[k] = v
	}
	body["success"] = success
	if errMsg != "" {
		body["error"] = errMsg
	}

	encoded, err := encodeBody(body)
	if err != nil {
		status = http.StatusInternalServerError
		encoded, _ = encodeBody(map[string]any{
			"success": false,
			"error":   string(domain.KindInternal),
			"message": "response encoding failed: " + err.Error(),
		})
	}

	return domain.Envelope{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			"X-Response-Time": responseClock().Format(time.RFC3339Nano),
		},
		Body: encoded,
	}
}

// encodeBody renders v as compact JSON without HTML escaping so prompts and
// answers keep their characters verbatim.
func encodeBody(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
