package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/thumbnailer/internal/domain"
)

var notFoundCodes = map[string]bool{
	"NoSuchKey":    true,
	"NoSuchBucket": true,
	"NotFound":     true,
	"NoSuchObject": true,
}

// ErrObjectNotFound is the cause attached to not-found failures raised by
// the in-memory store.
var ErrObjectNotFound = errors.New("object not found")

func notFound(op string, addr domain.ObjectAddress, cause error) error {
	return domain.Wrap(domain.KindNotFound, op, fmt.Sprintf("%s %s", op, addr), cause)
}

// classify maps a backend error to a typed pipeline error. code is the
// backend's error code when one could be extracted.
func classify(op string, addr domain.ObjectAddress, code string, err error) error {
	return classifySubject(op, addr.String(), code, err)
}

// classifyCopy names both ends of a copy; a missing bucket on either side
// surfaces as NoSuchBucket with no hint of which one.
func classifyCopy(src, dst domain.ObjectAddress, code string, err error) error {
	return classifySubject(OpCopy, fmt.Sprintf("%s -> %s", src, dst), code, err)
}

func classifySubject(op, subject, code string, err error) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf("%s %s", op, subject)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.Wrap(domain.KindTransient, op, msg, err)
	}
	if notFoundCodes[code] {
		log.Warn().Str("op", op).Str("object", subject).Str("code", code).Msg("object store reported missing object")
		return domain.Wrap(domain.KindNotFound, op, msg, err)
	}

	log.Warn().Err(err).Str("op", op).Str("object", subject).Str("code", code).Msg("object store request failed")
	return domain.Wrap(domain.KindTransient, op, msg, err)
}
