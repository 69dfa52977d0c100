package web

import (
	"encoding/json"
	"net/http"

	"rssss/internal/feeds"
)

// Response is what the /feed endpoint sends back for a resolved outcome
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// Respond maps a terminal outcome to the response sent to the caller.
// Upstream failure details never reach the body.
func Respond(out feeds.Outcome) Response {
	switch out.Kind {
	case feeds.KindSuccess:
		body, err := json.Marshal(out.Document)
		if err != nil {
			return Response{Status: http.StatusInternalServerError}
		}
		return Response{Status: http.StatusOK, ContentType: "application/json", Body: body}

	case feeds.KindUpstreamStatus:
		return Response{Status: passthroughStatus(out.Status)}

	default:
		return Response{Status: http.StatusInternalServerError}
	}
}

// passthroughStatus returns the upstream status if it can be sent as a
// final response status, otherwise 502.
func passthroughStatus(status int) int {
	if status < 200 || status > 599 {
		return http.StatusBadGateway
	}
	return status
}

func (resp Response) write(w http.ResponseWriter) {
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.WriteHeader(resp.Status)
	if len(resp.Body) > 0 {
		w.Write(resp.Body)
	}
}
