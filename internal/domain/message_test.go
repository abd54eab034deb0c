package domain

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodePayload(t *testing.T) {
	s, err := EncodePayload("hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", s)

	s, err = EncodePayload("")
	require.NoError(t, err)
	assert.Equal(t, "", s)

	s, err = EncodePayload([]byte("raw"))
	require.NoError(t, err)
	assert.Equal(t, "raw", s)

	s, err = EncodePayload(map[string]int{"a": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, s)
}

func TestEncodePayload_Unserializable(t *testing.T) {
	_, err := EncodePayload(math.Inf(1))
	assert.ErrorIs(t, err, ErrSerialization)

	_, err = EncodePayload(make(chan int))
	assert.ErrorIs(t, err, ErrSerialization)
}

func TestValidateMetadata(t *testing.T) {
	assert.NoError(t, ValidateMetadata(map[string]string{"source": "billing"}))
	assert.NoError(t, ValidateMetadata(nil))

	for _, key := range []string{"message", "timestamp", "attempts", "status", "execute_time", "delay_seconds"} {
		err := ValidateMetadata(map[string]string{key: "x"})
		assert.ErrorIs(t, err, ErrReservedField, key)
	}
}

func TestMessage_FieldsAndParse(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msg := &Message{
		Payload:   `{"order":42}`,
		Metadata:  map[string]string{"source": "web"},
		Attempts:  2,
		Status:    StatusPending,
		Timestamp: ts,
	}

	fields := msg.Fields()
	assert.Equal(t, `{"order":42}`, fields[FieldMessage])
	assert.Equal(t, "2", fields[FieldAttempts])
	assert.Equal(t, "pending", fields[FieldStatus])
	assert.Equal(t, "web", fields["source"])
	assert.NotContains(t, fields, FieldTransferredAt)

	parsed, err := ParseMessage("1-0", fields)
	require.NoError(t, err)
	assert.Equal(t, "1-0", parsed.ID)
	assert.Equal(t, msg.Payload, parsed.Payload)
	assert.Equal(t, 2, parsed.Attempts)
	assert.Equal(t, StatusPending, parsed.Status)
	assert.Equal(t, map[string]string{"source": "web"}, parsed.Metadata)
	assert.True(t, ts.Equal(parsed.Timestamp))

	var body struct {
		Order int `json:"order"`
	}
	require.NoError(t, parsed.Unmarshal(&body))
	assert.Equal(t, 42, body.Order)
}

func TestParseMessage_Malformed(t *testing.T) {
	_, err := ParseMessage("1-0", map[string]string{"status": "pending"})
	assert.ErrorIs(t, err, ErrNoMessage)
}

func TestParseMessage_DropsDelayFields(t *testing.T) {
	msg, err := ParseMessage("1-0", map[string]string{
		FieldMessage:      "x",
		FieldExecuteTime:  "1700000000",
		FieldDelaySeconds: "5",
	})
	require.NoError(t, err)
	assert.Empty(t, msg.Metadata)
}

func TestStoreError(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewStoreError("xadd", cause)

	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "xadd")
	assert.Nil(t, NewStoreError("xadd", nil))

	var storeErr *StoreError
	assert.True(t, errors.As(err, &storeErr))
	assert.Equal(t, "xadd", storeErr.Op)
}

func TestHandlerFailure(t *testing.T) {
	cause := errors.New("boom")
	f := &HandlerFailure{MessageID: "1-0", Err: cause}
	assert.ErrorIs(t, f, cause)
	assert.Contains(t, f.Error(), "1-0")

	p := &HandlerFailure{MessageID: "2-0", Panic: "nil map"}
	assert.Contains(t, p.Error(), "panicked")
}
