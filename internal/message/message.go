// internal/message/message.go
// Contains the message envelope exchanged between clients and server and its payload variants.
package message

import (
	"time"

	"github.com/google/uuid"
)

// SystemSender is the sender name stamped on server-originated notices.
const SystemSender = "Server"

// Error codes carried by ErrorNotice payloads.
const (
	CodeInvalidMessage = 400
	CodeUnauthorized   = 401
	CodeUserExists     = 409
	CodeRateLimited    = 429
	CodeInternalError  = 500
)

// Kind identifies the operation a message carries.
type Kind string

const (
	KindConnect       Kind = "connect"
	KindDisconnect    Kind = "disconnect"
	KindSendText      Kind = "send_text"
	KindListUsers     Kind = "list_users"
	KindConnectAck    Kind = "connect_ack"
	KindDisconnectAck Kind = "disconnect_ack"
	KindTextDelivered Kind = "text_delivered"
	KindUserListing   Kind = "user_listing"
	KindErrorNotice   Kind = "error_notice"
)

// Kinds lists every kind in declaration order.
var Kinds = []Kind{
	KindConnect,
	KindDisconnect,
	KindSendText,
	KindListUsers,
	KindConnectAck,
	KindDisconnectAck,
	KindTextDelivered,
	KindUserListing,
	KindErrorNotice,
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindConnect, KindDisconnect, KindSendText, KindListUsers,
		KindConnectAck, KindDisconnectAck, KindTextDelivered, KindUserListing,
		KindErrorNotice:
		return true
	}
	return false
}

// FromClient reports whether clients are allowed to send this kind.
func (k Kind) FromClient() bool {
	switch k {
	case KindConnect, KindDisconnect, KindSendText, KindListUsers:
		return true
	}
	return false
}

func (k Kind) String() string { return string(k) }

// Payload is the closed set of message bodies. Only the types in this
// package implement it.
type Payload interface {
	isPayload()
}

// ConnectPayload carries the username requested by a Connect.
type ConnectPayload struct {
	Username string `json:"username" validate:"required,max=64"`
}

// EmptyPayload is the body of Disconnect, ConnectAck and DisconnectAck.
type EmptyPayload struct{}

// TextPayload carries chat text for SendText and TextDelivered.
type TextPayload struct {
	Text string `json:"text" validate:"required"`
}

// UsersPayload carries an ordered username list for ListUsers and UserListing.
type UsersPayload struct {
	Usernames []string `json:"usernames"`
}

// ErrorPayload is the body of an ErrorNotice.
type ErrorPayload struct {
	Code   int    `json:"code"`
	Detail string `json:"detail"`
}

func (ConnectPayload) isPayload() {}
func (EmptyPayload) isPayload()   {}
func (TextPayload) isPayload()    {}
func (UsersPayload) isPayload()   {}
func (ErrorPayload) isPayload()   {}

// Message is the envelope for every operation. Treat it as a value: the
// constructors copy anything mutable and nothing in this module edits a
// Message after building it.
type Message struct {
	ID        uuid.UUID
	Kind      Kind
	Timestamp time.Time
	Sender    string // empty when absent
	Payload   Payload
}

// HasSender reports whether the message carries a sender.
func (m Message) HasSender() bool { return m.Sender != "" }

// Text returns the text of a SendText or TextDelivered message.
func (m Message) Text() (string, bool) {
	p, ok := m.Payload.(TextPayload)
	return p.Text, ok
}

// Usernames returns a copy of the username list of a ListUsers or UserListing message.
func (m Message) Usernames() ([]string, bool) {
	p, ok := m.Payload.(UsersPayload)
	if !ok {
		return nil, false
	}
	return append([]string(nil), p.Usernames...), true
}

// ErrorBody returns the body of an ErrorNotice.
func (m Message) ErrorBody() (ErrorPayload, bool) {
	p, ok := m.Payload.(ErrorPayload)
	return p, ok
}

func newMessage(kind Kind, sender string, payload Payload) Message {
	return Message{
		ID:        uuid.New(),
		Kind:      kind,
		Timestamp: time.Now().UTC(),
		Sender:    sender,
		Payload:   payload,
	}
}

// Connect builds a Connect request for username.
func Connect(username string) Message {
	return newMessage(KindConnect, username, ConnectPayload{Username: username})
}

// Disconnect builds a Disconnect request.
func Disconnect(sender string) Message {
	return newMessage(KindDisconnect, sender, EmptyPayload{})
}

// SendText builds a chat message from sender.
func SendText(sender, text string) Message {
	return newMessage(KindSendText, sender, TextPayload{Text: text})
}

// ListUsers builds a user listing request.
func ListUsers(sender string) Message {
	return newMessage(KindListUsers, sender, UsersPayload{Usernames: []string{}})
}

// ConnectAck confirms a successful Connect.
func ConnectAck() Message {
	return newMessage(KindConnectAck, "", EmptyPayload{})
}

// DisconnectAck confirms a Disconnect.
func DisconnectAck() Message {
	return newMessage(KindDisconnectAck, "", EmptyPayload{})
}

// TextDelivered builds the broadcast form of a chat message.
func TextDelivered(sender, text string) Message {
	return newMessage(KindTextDelivered, sender, TextPayload{Text: text})
}

// Notice builds a system TextDelivered message.
func Notice(text string) Message {
	return TextDelivered(SystemSender, text)
}

// UserListing builds a snapshot of connected usernames.
func UserListing(usernames []string) Message {
	list := append([]string{}, usernames...)
	return newMessage(KindUserListing, "", UsersPayload{Usernames: list})
}

// ErrorNotice builds an error reply.
func ErrorNotice(code int, detail string) Message {
	return newMessage(KindErrorNotice, "", ErrorPayload{Code: code, Detail: detail})
}

// IsSystem reports whether m was originated by the server rather than a user.
func (m Message) IsSystem() bool {
	return !m.HasSender() || m.Sender == SystemSender
}

// matches reports whether payload is the variant kind requires.
func matches(kind Kind, payload Payload) bool {
	switch payload.(type) {
	case ConnectPayload:
		return kind == KindConnect
	case EmptyPayload:
		return kind == KindDisconnect || kind == KindConnectAck || kind == KindDisconnectAck
	case TextPayload:
		return kind == KindSendText || kind == KindTextDelivered
	case UsersPayload:
		return kind == KindListUsers || kind == KindUserListing
	case ErrorPayload:
		return kind == KindErrorNotice
	}
	return false
}
