// Package event turns raw bucket notification payloads into a validated
// Notification carrying exactly one decoded source address.
package event

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/thumbnailer/internal/domain"
)

const opParse = "parse_event"

// Notification is the read-only view of one invocation's trigger.
type Notification struct {
	Source    domain.ObjectAddress
	EventName string
	EventTime time.Time
	Sequencer string
	ETag      string
	VersionID string
	Size      int64
}

// ID identifies one delivery of an object event. Redeliveries of the same
// event share an ID; a later overwrite of the same key does not.
func (n *Notification) ID() string {
	marker := n.Sequencer
	if marker == "" {
		marker = n.ETag
	}
	if marker == "" {
		return n.Source.Bucket + "/" + n.Source.Key
	}
	return n.Source.Bucket + "/" + n.Source.Key + "#" + marker
}

// Parse extracts the first record's bucket and key from a raw S3 (or
// S3-compatible) notification document.
func Parse(raw []byte) (*Notification, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, domain.NewError(domain.KindMalformedEvent, opParse, "empty payload")
	}

	var payload events.S3Event
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, domain.Wrap(domain.KindMalformedEvent, opParse, "payload is not an S3 notification", err)
	}

	return FromS3Event(payload)
}

// FromS3Event validates an already-decoded S3 event.
func FromS3Event(payload events.S3Event) (*Notification, error) {
	if len(payload.Records) == 0 {
		return nil, domain.NewError(domain.KindMalformedEvent, opParse, "payload has no records")
	}
	if extra := len(payload.Records) - 1; extra > 0 {
		log.Debug().Int("ignored_records", extra).Msg("notification carries more than one record, using the first")
	}

	record := payload.Records[0]
	bucket := record.S3.Bucket.Name
	if strings.TrimSpace(bucket) == "" {
		return nil, domain.NewError(domain.KindMalformedEvent, opParse, "record has no bucket name")
	}
	if record.S3.Object.Key == "" {
		return nil, domain.NewError(domain.KindMalformedEvent, opParse, "record has no object key")
	}

	key, err := DecodeKey(record.S3.Object.Key)
	if err != nil {
		return nil, domain.Wrap(domain.KindMalformedEvent, opParse, "object key cannot be decoded", err)
	}

	return &Notification{
		Source:    domain.NewObjectAddress(bucket, key),
		EventName: record.EventName,
		EventTime: record.EventTime,
		Sequencer: record.S3.Object.Sequencer,
		ETag:      record.S3.Object.ETag,
		VersionID: record.S3.Object.VersionID,
		Size:      record.S3.Object.Size,
	}, nil
}

// DecodeKey recovers the true object key from its notification form: every
// '+' becomes a space first, then percent escapes are decoded.
func DecodeKey(raw string) (string, error) {
	key, err := url.PathUnescape(strings.ReplaceAll(raw, "+", " "))
	if err != nil {
		return "", err
	}
	if !utf8.ValidString(key) {
		return "", fmt.Errorf("decoded key %q is not valid UTF-8", raw)
	}
	if key == "" {
		return "", fmt.Errorf("decoded key is empty")
	}
	return key, nil
}

// EncodeKey is the inverse of DecodeKey, producing the form S3 uses in
// notifications (spaces as '+', everything else query-escaped).
func EncodeKey(key string) string {
	return url.QueryEscape(key)
}
