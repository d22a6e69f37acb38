package types

import (
	"encoding/json"
)

// Wire-level message type identifiers. The hyphen/underscore mix is part of
// the protocol: clients send both spellings of the control command, and the
// clear flow uses "message-cleared" for the broadcast event but
// "message_cleared" for the control-only acknowledgement.
const (
	TypeIdentification    = "identification"
	TypeMessage           = "message"
	TypeMessageHistory    = "message_history"
	TypeClearMessages     = "clear-messages"
	TypeMessageCleared    = "message-cleared"
	TypeClearConfirmation = "clear_confirmation"
	TypeMessageClearedAck = "message_cleared"
	TypeOffer             = "offer"
	TypeAnswer            = "answer"
	TypeICECandidate      = "ice-candidate"
	TypeControlCommand    = "control-command"
	TypeControlCommandAlt = "control_command"
	TypeStatusReport      = "status_report"
	TypeDeviceList        = "device_list"
)

// Chat message priority values.
const (
	PriorityNormal = "normal"
	PriorityUrgent = "urgent"
)

// Envelope is the decoded header of an inbound frame. Every defined type
// reads a subset of these fields; chat frames are re-decoded as generic
// maps so passthrough fields survive verbatim.
type Envelope struct {
	Type       string          `json:"type"`
	From       string          `json:"from,omitempty"`
	To         string          `json:"to,omitempty"`
	DeviceName string          `json:"deviceName,omitempty"`
	XRID       string          `json:"xrId,omitempty"`
	By         string          `json:"by,omitempty"`
	Device     string          `json:"device,omitempty"`
	Command    string          `json:"command,omitempty"`
	Status     string          `json:"status,omitempty"`
	SDP        json.RawMessage `json:"sdp,omitempty"`
	Candidate  json.RawMessage `json:"candidate,omitempty"`
}

// DecodeEnvelope parses an inbound frame into its envelope form.
// A frame that is not a JSON object, or that carries no type field,
// is rejected; the caller drops it without replying.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, ErrMalformedFrame
	}
	if env.Type == "" {
		return nil, ErrMissingType
	}
	return &env, nil
}

// Signal is the normalized outbound form of an offer, answer, or
// ICE candidate. The sdp/candidate payloads are opaque to the relay
// and forwarded byte-for-byte.
type Signal struct {
	Type      string          `json:"type"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	From      string          `json:"from,omitempty"`
	To        string          `json:"to,omitempty"`
}

// Device is one entry of a participant snapshot.
type Device struct {
	Name string `json:"name"`
	XRID string `json:"xrId"`
}

// DeviceList is the full participant snapshot broadcast on every
// membership change. No incremental diffs are sent.
type DeviceList struct {
	Type    string   `json:"type"`
	Devices []Device `json:"devices"`
}

// HistoryReplay carries the most recent chat messages to a newly
// accepted connection.
type HistoryReplay struct {
	Type     string                   `json:"type"`
	Messages []map[string]interface{} `json:"messages"`
}
