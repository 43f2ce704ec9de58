package jwtx

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Header is the protected header of a compact JWS.
type Header struct {
	Alg string `json:"alg"`
	Kid string `json:"kid,omitempty"`
	Typ string `json:"typ,omitempty"`
}

// DecodeHeader decodes the first segment of a token without verifying it.
func DecodeHeader(token string) (Header, error) {
	seg, err := segment(token, 0)
	if err != nil {
		return Header{}, err
	}

	var h Header
	if err := json.Unmarshal(seg, &h); err != nil {
		return Header{}, fmt.Errorf("%w: header: %v", ErrMalformed, err)
	}
	return h, nil
}

// DecodePayload decodes the second segment of a token into Claims without
// verifying the signature. Never trust the result for authorization.
func DecodePayload(token string) (Claims, error) {
	seg, err := segment(token, 1)
	if err != nil {
		return Claims{}, err
	}

	var c Claims
	if err := json.Unmarshal(seg, &c); err != nil {
		return Claims{}, fmt.Errorf("%w: payload: %v", ErrMalformed, err)
	}
	return c, nil
}

// DecodePayloadMap is DecodePayload without the typed view, numbers are kept
// as json.Number.
func DecodePayloadMap(token string) (map[string]any, error) {
	seg, err := segment(token, 1)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(strings.NewReader(string(seg)))
	dec.UseNumber()

	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrMalformed, err)
	}
	if m == nil {
		return nil, fmt.Errorf("%w: payload is not an object", ErrMalformed)
	}
	return m, nil
}

func segment(token string, i int) ([]byte, error) {
	parts := strings.Split(token, ".")
	if len(parts) < 3 {
		return nil, fmt.Errorf("%w: expected 3 segments, got %d", ErrMalformed, len(parts))
	}

	// Some issuers pad their segments, RFC 7515 says they shouldn't.
	raw := strings.TrimRight(parts[i], "=")
	b, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: segment %d: %v", ErrMalformed, i, err)
	}
	return b, nil
}
