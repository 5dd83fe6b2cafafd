// Package rpc multiplexes independently-addressed request/response frames
// over a single websocket connection. Each request carries an id, verb,
// path, and JSON body; responses are correlated back to their request by id.
package rpc

import "encoding/json"

// Verbs used on the skill channel.
const (
	VerbPost   = "POST"
	VerbPut    = "PUT"
	VerbDelete = "DELETE"
	VerbGet    = "GET"
)

// JSONContentType is the single permitted content type for frame bodies.
const JSONContentType = "application/json; charset=utf-8"

// Request is one framed request on the connection.
type Request struct {
	ID          string          `json:"id"`
	Verb        string          `json:"verb"`
	Path        string          `json:"path"`
	ContentType string          `json:"contentType,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
}

// Response answers a Request, correlated by ID.
type Response struct {
	ID     string          `json:"id"`
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body,omitempty"`
}

// frame is the wire envelope. Exactly one of Request/Response is set.
type frame struct {
	Kind     string    `json:"kind"` // "request" | "response"
	Request  *Request  `json:"request,omitempty"`
	Response *Response `json:"response,omitempty"`
}

const (
	kindRequest  = "request"
	kindResponse = "response"
)

// NewJSONRequest builds a request with a JSON-encoded body.
func NewJSONRequest(verb, path string, body any) (*Request, error) {
	req := &Request{Verb: verb, Path: path, ContentType: JSONContentType}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		req.Body = data
	}
	return req, nil
}

// DecodeBody unmarshals the response body into out.
func (r *Response) DecodeBody(out any) error {
	return json.Unmarshal(r.Body, out)
}
