package relay

import (
	"encoding/json"
	"errors"
	"fmt"
)

type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

var (
	ErrUnknownType  = errors.New("unknown message type")
	ErrMissingField = errors.New("missing required field")
)

// Message is one decoded inbound signaling frame. The set of implementations
// is closed; anything that does not decode into one of them is rejected
// before it can touch room state.
type Message interface {
	kind() string
}

type Join struct {
	CallID   string
	Role     Role
	ClientID string
}

// Offer carries the host's session description for one particular guest.
type Offer struct {
	TargetGuestID string
	Offer         json.RawMessage
}

// Answer carries a guest's session description back to the host.
type Answer struct {
	Answer json.RawMessage
}

// Candidate carries a connectivity candidate. TargetGuestID is set only when
// the sender is the host.
type Candidate struct {
	TargetGuestID string
	Candidate     json.RawMessage
}

// Ready signals that the guest received the first audio frame and wants to
// start local video playback.
type Ready struct{}

func (Join) kind() string      { return "join" }
func (Offer) kind() string     { return "offer" }
func (Answer) kind() string    { return "answer" }
func (Candidate) kind() string { return "ice-candidate" }
func (Ready) kind() string     { return "ready" }

// Decode parses one wire frame into a Message. Required fields are checked
// per variant; the relay payloads (offer/answer/candidate) stay raw so they
// can be forwarded byte-identical.
func Decode(raw []byte) (Message, error) {
	var env struct {
		Type          string          `json:"type"`
		CallID        string          `json:"callId"`
		Role          Role            `json:"role"`
		ClientID      string          `json:"clientId"`
		TargetGuestID string          `json:"targetGuestId"`
		Offer         json.RawMessage `json:"offer"`
		Answer        json.RawMessage `json:"answer"`
		Candidate     json.RawMessage `json:"candidate"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	switch env.Type {
	case "join":
		if env.CallID == "" || env.ClientID == "" {
			return nil, fmt.Errorf("join: %w", ErrMissingField)
		}
		if env.Role != RoleHost && env.Role != RoleGuest {
			return nil, fmt.Errorf("join: invalid role %q", env.Role)
		}
		return Join{CallID: env.CallID, Role: env.Role, ClientID: env.ClientID}, nil
	case "offer":
		if env.TargetGuestID == "" || len(env.Offer) == 0 {
			return nil, fmt.Errorf("offer: %w", ErrMissingField)
		}
		return Offer{TargetGuestID: env.TargetGuestID, Offer: env.Offer}, nil
	case "answer":
		if len(env.Answer) == 0 {
			return nil, fmt.Errorf("answer: %w", ErrMissingField)
		}
		return Answer{Answer: env.Answer}, nil
	case "ice-candidate":
		if len(env.Candidate) == 0 {
			return nil, fmt.Errorf("ice-candidate: %w", ErrMissingField)
		}
		return Candidate{TargetGuestID: env.TargetGuestID, Candidate: env.Candidate}, nil
	case "ready":
		return Ready{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

// outbound is the single server->client frame shape; omitempty keeps each
// message down to the fields its type actually carries.
type outbound struct {
	Type      string          `json:"type"`
	Error     string          `json:"error,omitempty"`
	HostID    string          `json:"hostId,omitempty"`
	GuestID   string          `json:"guestId,omitempty"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}
