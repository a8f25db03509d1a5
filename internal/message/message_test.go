package message

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		msg      Message
		wantErr  bool
		wantCode int
		field    string
	}{
		{name: "connect ok", msg: Connect("alice")},
		{name: "connect empty username", msg: Connect(""), wantErr: true, wantCode: CodeInvalidMessage, field: "username"},
		{name: "send text ok", msg: SendText("bob", "hi")},
		{name: "send text empty", msg: SendText("bob", ""), wantErr: true, wantCode: CodeInvalidMessage, field: "text"},
		{name: "send text without sender", msg: SendText("", "hi"), wantErr: true, wantCode: CodeUnauthorized, field: "sender"},
		{name: "delivered empty", msg: TextDelivered("bob", ""), wantErr: true, wantCode: CodeInvalidMessage, field: "text"},
		{name: "disconnect", msg: Disconnect("bob")},
		{name: "list users", msg: ListUsers("bob")},
		{name: "connect ack", msg: ConnectAck()},
		{name: "disconnect ack", msg: DisconnectAck()},
		{name: "user listing empty", msg: UserListing(nil)},
		{name: "error notice", msg: ErrorNotice(CodeUserExists, "taken")},
		{
			name:     "payload mismatch",
			msg:      Message{Kind: KindSendText, Sender: "bob", Payload: ConnectPayload{Username: "bob"}},
			wantErr:  true,
			wantCode: CodeInvalidMessage,
			field:    "payload",
		},
		{
			name:     "missing payload",
			msg:      Message{Kind: KindDisconnect},
			wantErr:  true,
			wantCode: CodeInvalidMessage,
			field:    "payload",
		},
		{
			name:     "unknown kind",
			msg:      Message{Kind: "shout", Payload: TextPayload{Text: "x"}},
			wantErr:  true,
			wantCode: CodeInvalidMessage,
			field:    "kind",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.msg)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.wantCode, verr.Code)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestValidateUsernameTooLong(t *testing.T) {
	long := make([]byte, 65)
	for i := range long {
		long[i] = 'a'
	}
	err := Validate(Connect(string(long)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at most 64")
}

func TestRoundTrip(t *testing.T) {
	msgs := []Message{
		Connect("alice"),
		Disconnect("alice"),
		SendText("alice", "hello world"),
		ListUsers("alice"),
		ConnectAck(),
		DisconnectAck(),
		TextDelivered("bob", "hi"),
		Notice("bob joined"),
		UserListing([]string{"alice", "bob"}),
		UserListing(nil),
		ErrorNotice(CodeInvalidMessage, "bad"),
	}

	for _, want := range msgs {
		t.Run(string(want.Kind), func(t *testing.T) {
			data, err := Encode(want)
			require.NoError(t, err)
			assert.NotContains(t, string(data), "\n")

			got, err := Decode(data)
			require.NoError(t, err)

			assert.Equal(t, want.ID, got.ID)
			assert.Equal(t, want.Kind, got.Kind)
			assert.Equal(t, want.Sender, got.Sender)
			assert.True(t, want.Timestamp.Equal(got.Timestamp))
			assert.Equal(t, want.Payload, got.Payload)

			again, err := Encode(got)
			require.NoError(t, err)
			assert.JSONEq(t, string(data), string(again))
		})
	}
}

func TestDecodeFillsIDAndTimestamp(t *testing.T) {
	got, err := Decode([]byte(`{"kind":"connect","payload":{"username":"alice"}}`))
	require.NoError(t, err)

	assert.NotEqual(t, [16]byte{}, [16]byte(got.ID))
	assert.False(t, got.Timestamp.IsZero())
	assert.Equal(t, ConnectPayload{Username: "alice"}, got.Payload)
	assert.False(t, got.HasSender())
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want error
	}{
		{name: "not json", in: `hello`, want: ErrMalformed},
		{name: "truncated", in: `{"kind":"connect"`, want: ErrMalformed},
		{name: "unknown kind", in: `{"kind":"shout","payload":{"text":"x"}}`, want: ErrUnknownKind},
		{name: "missing kind", in: `{"payload":{"text":"x"}}`, want: ErrUnknownKind},
		{name: "bad id", in: `{"id":"nope","kind":"disconnect"}`, want: ErrMalformed},
		{name: "wrong payload variant", in: `{"kind":"send_text","sender":"a","payload":{"username":"a"}}`, want: ErrMalformed},
		{name: "wrong field type", in: `{"kind":"error_notice","payload":{"code":"x","detail":"d"}}`, want: ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.in))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var derr *DecodeError
			assert.True(t, errors.As(err, &derr))
		})
	}
}

func TestDecodeMissingPayloadIsZeroVariant(t *testing.T) {
	got, err := Decode([]byte(`{"kind":"send_text","sender":"bob"}`))
	require.NoError(t, err)
	assert.Equal(t, TextPayload{}, got.Payload)
	assert.ErrorIs(t, Validate(got), ErrInvalid)
}

func TestEncodeRejectsUnknownKind(t *testing.T) {
	_, err := Encode(Message{Kind: "shout", Payload: EmptyPayload{}})
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestKindSets(t *testing.T) {
	for _, k := range Kinds {
		assert.True(t, k.Valid(), k)
	}
	assert.False(t, Kind("").Valid())

	assert.True(t, KindConnect.FromClient())
	assert.True(t, KindSendText.FromClient())
	assert.False(t, KindConnectAck.FromClient())
	assert.False(t, KindErrorNotice.FromClient())
}

func TestIsSystem(t *testing.T) {
	assert.True(t, Notice("x joined").IsSystem())
	assert.True(t, ConnectAck().IsSystem())
	assert.False(t, TextDelivered("bob", "hi").IsSystem())
}
