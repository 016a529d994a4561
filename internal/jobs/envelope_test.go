package jobs

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	data, err := Encode(KindEarningsUpdate, &EarningsUpdatePayload{
		InstructorID: "inst_1",
		TotalAmount:  9900,
	})
	require.NoError(t, err)

	kind, raw, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, KindEarningsUpdate, kind)

	var p EarningsUpdatePayload
	require.NoError(t, json.Unmarshal(raw, &p))
	assert.Equal(t, "inst_1", p.InstructorID)
	assert.Equal(t, int64(9900), p.TotalAmount)
}

func TestEncode_RejectsInvalidPayload(t *testing.T) {
	tests := []struct {
		name    string
		kind    Kind
		payload payloadValidator
	}{
		{"earnings missing instructor", KindEarningsUpdate, &EarningsUpdatePayload{TotalAmount: 100}},
		{"earnings zero amount", KindEarningsUpdate, &EarningsUpdatePayload{InstructorID: "i"}},
		{"earnings negative amount", KindEarningsUpdate, &EarningsUpdatePayload{InstructorID: "i", TotalAmount: -5}},
		{"upload missing video", KindVideoUpload, &VideoUploadPayload{FileRef: "tmp/a.mp4"}},
		{"transcode missing key", KindVideoTranscode, &VideoTranscodePayload{VideoID: "v"}},
		{"conversation empty message", KindConversationUpsert, &ConversationUpsertPayload{UserID: "u", InstructorID: "i"}},
		{"email missing recipient", KindEmailSend, &EmailSendPayload{Subject: "hi"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.kind, tt.payload)
			assert.ErrorIs(t, err, ErrMalformedJob)
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"not json", []byte("not json at all")},
		{"unknown kind", []byte(`{"kind":"course.publish","payload":{}}`)},
		{"missing required field", []byte(`{"kind":"earnings.update","payload":{"totalAmount":100}}`)},
		{"wrong payload shape", []byte(`{"kind":"email.send","payload":"just a string"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode(tt.data)
			assert.ErrorIs(t, err, ErrMalformedJob)
		})
	}
}

func TestEncode_UnknownKind(t *testing.T) {
	_, err := Encode(Kind("course.publish"), &EmailSendPayload{To: "a@b.c", Subject: "s"})
	assert.ErrorIs(t, err, ErrMalformedJob)
}
