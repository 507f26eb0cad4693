package codec

import "fmt"

// OutboundKind discriminates frames the client may emit.
type OutboundKind string

const (
	KindConfigUpdate       OutboundKind = "config_update"
	KindFetchRequest       OutboundKind = "fetch_request"
	KindPasswordSubmission OutboundKind = "password_submission"
)

// Outbound is one of ConfigUpdate, FetchRequest or PasswordSubmission.
type Outbound interface {
	Kind() OutboundKind
}

// ConfigUpdate carries a configuration snapshot.
type ConfigUpdate struct {
	Config DeviceConfig
}

// FetchRequest asks the device for its current configuration.
type FetchRequest struct{}

// PasswordSubmission carries the raw password typed by the user.
type PasswordSubmission struct {
	Password string
}

func (ConfigUpdate) Kind() OutboundKind       { return KindConfigUpdate }
func (FetchRequest) Kind() OutboundKind       { return KindFetchRequest }
func (PasswordSubmission) Kind() OutboundKind { return KindPasswordSubmission }

// Encode renders any outbound request as its wire frame.
func Encode(req Outbound) (string, error) {
	switch r := req.(type) {
	case ConfigUpdate:
		return EncodeConfig(r.Config)
	case FetchRequest:
		return EncodeFetchRequest(), nil
	case PasswordSubmission:
		return EncodePasswordSubmission(r.Password), nil
	default:
		return "", fmt.Errorf("unsupported outbound request %T", req)
	}
}

// NotificationKind discriminates frames received from the device.
type NotificationKind int

const (
	Unrecognized NotificationKind = iota
	SendAck
	PasswordAccepted
	PasswordRejected
)

func (k NotificationKind) String() string {
	switch k {
	case SendAck:
		return "send_ack"
	case PasswordAccepted:
		return "password_accepted"
	case PasswordRejected:
		return "password_rejected"
	default:
		return "unrecognized"
	}
}

// Notification is a decoded inbound frame. Raw always holds the frame text.
type Notification struct {
	Kind NotificationKind
	Raw  string
}
