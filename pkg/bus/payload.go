package bus

import "encoding/json"

// EventType identifies the shape of an Event's Payload.
type EventType string

const (
	EventRuntimeStatus        EventType = "runtime.status"
	EventRuntimeError         EventType = "runtime.error"
	EventWhatsappQR           EventType = "whatsapp.qr"
	EventWhatsappConnected    EventType = "whatsapp.connected"
	EventWhatsappDisconnected EventType = "whatsapp.disconnected"
	EventGoogleConnected      EventType = "google.connected"
	EventGoogleDisconnected   EventType = "google.disconnected"
	EventGoogleError          EventType = "google.error"
	EventConfigApplied        EventType = "config.applied"
)

// Payload is implemented by every typed event body. Using a tagged union
// instead of map[string]interface{} keeps publishers and the reconciler from
// drifting on field names.
type Payload interface {
	payloadType() EventType
}

// RuntimeStatusPayload reports the tenant container's lifecycle state.
type RuntimeStatusPayload struct {
	State   string `json:"state"`
	Message string `json:"message,omitempty"`
}

func (RuntimeStatusPayload) payloadType() EventType { return EventRuntimeStatus }

// RuntimeErrorPayload carries a fatal or transient runtime failure.
type RuntimeErrorPayload struct {
	Message string `json:"message"`
}

func (RuntimeErrorPayload) payloadType() EventType { return EventRuntimeError }

// WhatsappQRPayload carries a fresh pairing QR payload from the bridge
// process. The bridge's own wire format is inconsistent about the field
// name, so UnmarshalJSON accepts qr, qr_code, qrcode, or code, checked in
// that order.
type WhatsappQRPayload struct {
	QRCode string `json:"qr_code"`
}

func (WhatsappQRPayload) payloadType() EventType { return EventWhatsappQR }

func (p *WhatsappQRPayload) UnmarshalJSON(data []byte) error {
	var aliases struct {
		QR     string `json:"qr"`
		QRCode string `json:"qr_code"`
		QRCode2 string `json:"qrcode"`
		Code   string `json:"code"`
	}
	if err := json.Unmarshal(data, &aliases); err != nil {
		return err
	}
	switch {
	case aliases.QR != "":
		p.QRCode = aliases.QR
	case aliases.QRCode != "":
		p.QRCode = aliases.QRCode
	case aliases.QRCode2 != "":
		p.QRCode = aliases.QRCode2
	default:
		p.QRCode = aliases.Code
	}
	return nil
}

// WhatsappConnectedPayload marks a successful pairing.
type WhatsappConnectedPayload struct {
	Phone string `json:"phone,omitempty"`
}

func (WhatsappConnectedPayload) payloadType() EventType { return EventWhatsappConnected }

// WhatsappDisconnectedPayload marks a lost or ended pairing session.
type WhatsappDisconnectedPayload struct {
	Reason string `json:"reason,omitempty"`
}

func (WhatsappDisconnectedPayload) payloadType() EventType { return EventWhatsappDisconnected }

// GoogleConnectedPayload marks a linked Google account (calendar/mail
// integration, per the assistant's supplemented feature set).
type GoogleConnectedPayload struct {
	Account string `json:"account,omitempty"`
}

func (GoogleConnectedPayload) payloadType() EventType { return EventGoogleConnected }

// GoogleDisconnectedPayload marks a revoked or expired Google link.
type GoogleDisconnectedPayload struct {
	Reason string `json:"reason,omitempty"`
}

func (GoogleDisconnectedPayload) payloadType() EventType { return EventGoogleDisconnected }

// GoogleErrorPayload carries a Google integration failure.
type GoogleErrorPayload struct {
	Message string `json:"message"`
}

func (GoogleErrorPayload) payloadType() EventType { return EventGoogleError }

// ConfigAppliedPayload confirms a config revision has been applied to the
// running container (env reloaded, process restarted if required).
type ConfigAppliedPayload struct {
	Revision uint64 `json:"revision"`
}

func (ConfigAppliedPayload) payloadType() EventType { return EventConfigApplied }

// UnknownPayload is the fallback for event types this build doesn't
// recognize, keeping forward-compatibility between control and worker
// versions that might disagree on the payload catalog.
type UnknownPayload struct {
	Raw json.RawMessage `json:"-"`
}

func (UnknownPayload) payloadType() EventType { return "" }

// DecodePayload parses raw into the concrete Payload type for eventType,
// falling back to UnknownPayload for anything this build doesn't recognize.
func DecodePayload(eventType EventType, raw json.RawMessage) (Payload, error) {
	var p Payload
	switch eventType {
	case EventRuntimeStatus:
		p = &RuntimeStatusPayload{}
	case EventRuntimeError:
		p = &RuntimeErrorPayload{}
	case EventWhatsappQR:
		p = &WhatsappQRPayload{}
	case EventWhatsappConnected:
		p = &WhatsappConnectedPayload{}
	case EventWhatsappDisconnected:
		p = &WhatsappDisconnectedPayload{}
	case EventGoogleConnected:
		p = &GoogleConnectedPayload{}
	case EventGoogleDisconnected:
		p = &GoogleDisconnectedPayload{}
	case EventGoogleError:
		p = &GoogleErrorPayload{}
	case EventConfigApplied:
		p = &ConfigAppliedPayload{}
	default:
		return UnknownPayload{Raw: raw}, nil
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, p); err != nil {
			return nil, err
		}
	}
	return p, nil
}
