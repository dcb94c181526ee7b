package providers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/OnslaughtSnail/rostra/kernel/model"
)

// statusError converts a non-2xx response into a ProviderError, lifting the
// vendor's error.message when the body carries one.
func statusError(provider, modelName string, resp *http.Response) error {
	if resp == nil {
		return &model.ProviderError{Provider: provider, Model: modelName, Message: "empty http response"}
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &model.ProviderError{
		Provider:   provider,
		Model:      modelName,
		StatusCode: resp.StatusCode,
		Message:    errorMessage(resp.StatusCode, raw),
	}
}

func errorMessage(status int, raw []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && strings.TrimSpace(envelope.Error.Message) != "" {
		return strings.TrimSpace(envelope.Error.Message)
	}
	if body := strings.TrimSpace(string(raw)); body != "" {
		return body
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return "unexpected http status"
}

// transportError wraps a non-HTTP failure (dial, TLS, decode).
func transportError(provider, modelName string, err error) error {
	return &model.ProviderError{Provider: provider, Model: modelName, Message: err.Error(), Err: err}
}
