package domain

import "strings"

// ErrorKind classifies why an invocation failed.
type ErrorKind string

const (
	KindNone                 ErrorKind = ""
	KindMalformedEvent       ErrorKind = "malformed_event"
	KindInvalidConfiguration ErrorKind = "invalid_configuration"
	KindNotFound             ErrorKind = "not_found"
	KindTransient            ErrorKind = "transient"
	KindDecode               ErrorKind = "decode"
	KindEncode               ErrorKind = "encode"
	KindUnknown              ErrorKind = "unknown"
)

var errorKindLabels = map[ErrorKind]string{
	KindMalformedEvent:       "MalformedEventError",
	KindInvalidConfiguration: "InvalidConfigurationError",
	KindNotFound:             "NotFoundError",
	KindTransient:            "TransientError",
	KindDecode:               "DecodeError",
	KindEncode:               "EncodeError",
}

// Label returns the human-readable name of the kind.
func (k ErrorKind) Label() string {
	if label, ok := errorKindLabels[k]; ok {
		return label
	}
	if k == KindNone {
		return ""
	}

	return "UnknownError"
}

// ParseErrorKind returns the kind for a given label or kind string (case-insensitive).
func ParseErrorKind(s string) (ErrorKind, bool) {
	for kind, label := range errorKindLabels {
		if strings.EqualFold(s, label) || strings.EqualFold(s, string(kind)) {
			return kind, true
		}
	}

	return KindUnknown, false
}
