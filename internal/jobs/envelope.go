package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedJob indicates a payload that can never be processed: unknown
// kind, invalid JSON, or missing required fields. Malformed jobs are
// dead-lettered immediately and never retried.
var ErrMalformedJob = errors.New("malformed job")

// Kind identifies the type of work a job carries. The set is closed:
// producers and consumers agree on it at compile time.
type Kind string

const (
	KindEarningsUpdate     Kind = "earnings.update"
	KindVideoUpload        Kind = "video.upload"
	KindVideoTranscode     Kind = "video.transcode"
	KindConversationUpsert Kind = "conversation.upsert"
	KindEmailSend          Kind = "email.send"
)

// payloadValidator is implemented by every job payload type
type payloadValidator interface {
	Validate() error
}

// payloadRegistry maps each kind to a fresh payload instance for decoding
var payloadRegistry = map[Kind]func() payloadValidator{
	KindEarningsUpdate:     func() payloadValidator { return &EarningsUpdatePayload{} },
	KindVideoUpload:        func() payloadValidator { return &VideoUploadPayload{} },
	KindVideoTranscode:     func() payloadValidator { return &VideoTranscodePayload{} },
	KindConversationUpsert: func() payloadValidator { return &ConversationUpsertPayload{} },
	KindEmailSend:          func() payloadValidator { return &EmailSendPayload{} },
}

// EarningsUpdatePayload credits an instructor for a completed sale.
// TotalAmount is the sale price in minor currency units (cents). SaleRef is
// the originating payment reference; it keys dedupe and compensation.
type EarningsUpdatePayload struct {
	InstructorID string `json:"instructorId"`
	TotalAmount  int64  `json:"totalAmount"`
	SaleRef      string `json:"saleRef,omitempty"`
}

func (p *EarningsUpdatePayload) Validate() error {
	if p.InstructorID == "" {
		return fmt.Errorf("%w: earnings.update missing instructorId", ErrMalformedJob)
	}
	if p.TotalAmount <= 0 {
		return fmt.Errorf("%w: earnings.update totalAmount must be positive", ErrMalformedJob)
	}
	return nil
}

// VideoUploadPayload moves a staged source file into the blob store
type VideoUploadPayload struct {
	FileRef string `json:"fileRef"`
	VideoID string `json:"videoId"`
}

func (p *VideoUploadPayload) Validate() error {
	if p.FileRef == "" || p.VideoID == "" {
		return fmt.Errorf("%w: video.upload requires fileRef and videoId", ErrMalformedJob)
	}
	return nil
}

// VideoTranscodePayload produces playback renditions for an uploaded source
type VideoTranscodePayload struct {
	VideoID    string `json:"videoId"`
	StorageKey string `json:"storageKey"`
}

func (p *VideoTranscodePayload) Validate() error {
	if p.VideoID == "" || p.StorageKey == "" {
		return fmt.Errorf("%w: video.transcode requires videoId and storageKey", ErrMalformedJob)
	}
	return nil
}

// ConversationUpsertPayload routes a first-contact or followup message
// from a student to an instructor
type ConversationUpsertPayload struct {
	UserID       string `json:"userId"`
	InstructorID string `json:"instructorId"`
	Message      string `json:"message"`
}

func (p *ConversationUpsertPayload) Validate() error {
	if p.UserID == "" || p.InstructorID == "" {
		return fmt.Errorf("%w: conversation.upsert requires userId and instructorId", ErrMalformedJob)
	}
	if p.Message == "" {
		return fmt.Errorf("%w: conversation.upsert message is empty", ErrMalformedJob)
	}
	return nil
}

// EmailSendPayload dispatches a single transactional email
type EmailSendPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

func (p *EmailSendPayload) Validate() error {
	if p.To == "" || p.Subject == "" {
		return fmt.Errorf("%w: email.send requires to and subject", ErrMalformedJob)
	}
	return nil
}

// envelope is the on-wire shape of every job payload
type envelope struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Encode serializes a job payload. The payload must validate for its kind;
// producers cannot put a job on the wire that consumers would reject.
func Encode(kind Kind, payload payloadValidator) ([]byte, error) {
	if _, ok := payloadRegistry[kind]; !ok {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformedJob, kind)
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}
	return json.Marshal(envelope{Kind: kind, Payload: raw})
}

// Decode parses and validates a serialized job. It returns the kind and the
// raw payload bytes; handlers unmarshal the payload into their own type.
// Any failure is ErrMalformedJob.
func Decode(data []byte) (Kind, json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}
	newPayload, ok := payloadRegistry[env.Kind]
	if !ok {
		return "", nil, fmt.Errorf("%w: unknown kind %q", ErrMalformedJob, env.Kind)
	}
	p := newPayload()
	if err := json.Unmarshal(env.Payload, p); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}
	if err := p.Validate(); err != nil {
		return "", nil, err
	}
	return env.Kind, env.Payload, nil
}
