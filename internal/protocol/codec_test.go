package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadFrameLengthPrefixedRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, LengthPrefixed)

	f, err := DataFrame("req-1", TypeSuggest, SuggestRequest{Partial: "git s", CWD: "/p"})
	require.NoError(t, err)
	require.NoError(t, w.WriteFrame(f))

	r := NewReader(&buf, LengthPrefixed)
	got, err := r.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, TypeSuggest, got.Type)
	require.Equal(t, "req-1", got.ID)

	var payload SuggestRequest
	require.NoError(t, got.Decode(&payload))
	require.Equal(t, "git s", payload.Partial)
	require.Equal(t, "/p", payload.CWD)
}

func TestWriteReadFrameNewlineDelimitedRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, NewlineDelimited)

	f := ErrorFrame("req-2", ErrNotFound, "explain id not found", false)
	require.NoError(t, w.WriteFrame(f))

	r := NewReader(&buf, NewlineDelimited)
	got, err := r.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, "req-2", got.ID)
	require.NotNil(t, got.Error)
	require.Equal(t, ErrNotFound, got.Error.Kind)
	require.False(t, got.Error.Retryable)
}

func TestReadFrameMultipleLengthPrefixedFramesInSequence(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, LengthPrefixed)

	f1, err := DataFrame("1", TypePing, StatusPayload{Status: "ok"})
	require.NoError(t, err)
	f2, err := DataFrame("2", TypePing, StatusPayload{Status: "ok"})
	require.NoError(t, err)
	require.NoError(t, w.WriteFrame(f1))
	require.NoError(t, w.WriteFrame(f2))

	r := NewReader(&buf, LengthPrefixed)
	got1, err := r.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, "1", got1.ID)

	got2, err := r.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, "2", got2.ID)
}

func TestReadFrameMalformedJSONErrors(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("{not json\n")

	r := NewReader(&buf, NewlineDelimited)
	_, err := r.ReadFrame()
	require.Error(t, err)
}

func TestReadFrameOversizedLengthPrefixRejected(t *testing.T) {
	var buf bytes.Buffer
	lenBuf := make([]byte, 4)
	lenBuf[0] = 0xFF // absurdly large length
	buf.Write(lenBuf)

	r := NewReader(&buf, LengthPrefixed)
	_, err := r.ReadFrame()
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestDecodeEmptyDataErrors(t *testing.T) {
	f := Frame{ID: "x"}
	var v StatusPayload
	require.Error(t, f.Decode(&v))
}
