package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/cravecart/cravecart/internal/common"
)

// mapStatus turns a non-2xx response into a sentinel from common, keeping
// the server's message.
func mapStatus(resp *http.Response) error {
	var body ErrorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)
	msg := body.Error
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	var base error
	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		base = common.ErrorUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		base = common.ErrorNotFound
	case resp.StatusCode == http.StatusConflict:
		base = common.ErrorAlreadyExists
	case resp.StatusCode == http.StatusBadRequest, resp.StatusCode == http.StatusUnprocessableEntity:
		base = common.ErrorValidation
	case resp.StatusCode == http.StatusServiceUnavailable, resp.StatusCode == http.StatusBadGateway,
		resp.StatusCode == http.StatusGatewayTimeout:
		base = common.ErrUnavailable
	default:
		base = common.ErrorInternal
	}
	return fmt.Errorf("%w: %s", base, msg)
}
