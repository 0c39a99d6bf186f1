package gateway

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Response is a gateway reply. ID is the only field used for matching.
type Response struct {
	ID      string       `json:"id"`
	Status  string       `json:"status"`
	Error   string       `json:"error,omitempty"`
	Devices []ScanDevice `json:"dispositivos"`

	// Topic is where the response was seen (MQTT topic or relay path).
	Topic string `json:"-"`
}

// ScanDevice is one BLE device found by a scan.
type ScanDevice struct {
	MAC  string `json:"mac"`
	Name string `json:"nome,omitempty"`
	RSSI int    `json:"rssi,omitempty"`
}

// HasDeviceList reports whether the response carried a dispositivos array,
// even an empty one.
func (r Response) HasDeviceList() bool {
	return r.Devices != nil
}

// StatusIs reports whether the status matches any of codes, ignoring case.
func (r Response) StatusIs(codes ...string) bool {
	for _, c := range codes {
		if strings.EqualFold(r.Status, c) {
			return true
		}
	}
	return false
}

type wireResponse struct {
	ID      string        `json:"id"`
	Status  string        `json:"status"`
	Error   string        `json:"error"`
	Devices *[]ScanDevice `json:"dispositivos"`
	Data    *struct {
		Error string `json:"error"`
	} `json:"data"`
}

// DecodeResponse parses a response payload. A payload that is not JSON or
// carries no id is ErrMalformedResponse; such messages cannot be matched and
// are treated as never received.
//
// Some firmware revisions nest the error text under "data"; it is lifted
// into Error.
func DecodeResponse(payload []byte) (Response, error) {
	var w wireResponse
	if err := json.Unmarshal(payload, &w); err != nil {
		return Response{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if strings.TrimSpace(w.ID) == "" {
		return Response{}, fmt.Errorf("%w: missing id", ErrMalformedResponse)
	}

	resp := Response{
		ID:     w.ID,
		Status: w.Status,
		Error:  w.Error,
	}
	if resp.Error == "" && w.Data != nil {
		resp.Error = w.Data.Error
	}
	if w.Devices != nil {
		resp.Devices = *w.Devices
	}
	return resp, nil
}

// Encode returns the wire JSON of r. The relay endpoints and tests use it
// to stand in for the gateway.
func (r Response) Encode() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encoding response %s: %w", r.ID, err)
	}
	return data, nil
}
