package feeds

import "errors"

var (
	// ErrBodyTooLarge is returned when an upstream body crosses the size cap
	ErrBodyTooLarge = errors.New("response body exceeds size limit")
	// ErrNoLocation is returned for a redirect without a Location header
	ErrNoLocation = errors.New("redirect without location header")
	// ErrBadLocation is returned for a Location header that is not a usable URL
	ErrBadLocation = errors.New("redirect location is not a valid url")
)

// Kind tags the variant held by an Outcome
type Kind int

const (
	KindSuccess Kind = iota
	KindRedirected
	KindUpstreamStatus
	KindRedirectInvalid
	KindTransportFailure
	KindDecodeFailure
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindRedirected:
		return "redirected"
	case KindUpstreamStatus:
		return "upstream_status"
	case KindRedirectInvalid:
		return "redirect_invalid"
	case KindTransportFailure:
		return "transport_failure"
	case KindDecodeFailure:
		return "decode_failure"
	default:
		return "unknown"
	}
}

// Request is one outbound attempt. RedirectsLeft > 0 means a redirect
// response to this attempt will be followed.
type Request struct {
	URL           string
	RedirectsLeft int
}

// Follow returns the request for the next hop
func (r Request) Follow(location string) Request {
	return Request{URL: location, RedirectsLeft: r.RedirectsLeft - 1}
}

// Outcome is the result of resolving a URL. Which fields are set depends on Kind:
// Document and BodyBytes for KindSuccess, Location for KindRedirected,
// Status for KindUpstreamStatus and KindRedirectInvalid, Err for failures.
type Outcome struct {
	Kind      Kind
	URL       string
	Hops      int
	Status    int
	Location  string
	Document  *Document
	BodyBytes int
	Err       error
}

// Action is what the resolver does next with a response head
type Action int

const (
	ActionReadBody Action = iota
	ActionFollow
	ActionTerminal
)

// Classify decides how a response with the given status is handled.
// It does no I/O.
func Classify(status int, redirectsLeft int) Action {
	switch {
	case status >= 200 && status < 300:
		return ActionReadBody
	case status >= 300 && status < 400 && redirectsLeft > 0:
		return ActionFollow
	default:
		return ActionTerminal
	}
}
