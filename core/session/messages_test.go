package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeClientMessage(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{"type":"lock_file","path":"a.md","lock_type":"editor"}`))
	require.NoError(t, err)
	assert.Equal(t, LockFile{Path: "a.md", LockType: "editor"}, msg)

	msg, err = DecodeClientMessage([]byte(`{"type":"unlock_file","path":"a.md"}`))
	require.NoError(t, err)
	assert.Equal(t, UnlockFile{Path: "a.md"}, msg)

	msg, err = DecodeClientMessage([]byte(`{"type":"pong"}`))
	require.NoError(t, err)
	assert.Equal(t, Pong{}, msg)
}

func TestDecodeClientMessage_Errors(t *testing.T) {
	_, err := DecodeClientMessage([]byte(`{"type":"subscribe"}`))
	assert.ErrorIs(t, err, ErrUnknownMessage)

	_, err = DecodeClientMessage([]byte(`{`))
	assert.ErrorIs(t, err, ErrMalformedMessage)

	_, err = DecodeClientMessage([]byte(`{"type":"lock_file"}`))
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

func TestEncodeClientMessage(t *testing.T) {
	data, err := EncodeClientMessage(LockFile{Path: "a.md", LockType: "task_view"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"lock_file","path":"a.md","lock_type":"task_view"}`, string(data))

	data, err = EncodeClientMessage(Pong{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"pong"}`, string(data))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Add("b")
	r.Add("a")

	assert.Equal(t, 2, r.Count())
	assert.Equal(t, []string{"a", "b"}, r.IDs())

	r.Remove("a")
	assert.False(t, r.Has("a"))
	assert.True(t, r.Has("b"))
}
