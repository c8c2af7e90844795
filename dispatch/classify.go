package dispatch

import (
	"context"
	"errors"

	"github.com/Programmerfd54/rocket-shelduer-sub002/rocketchat"
	"github.com/Programmerfd54/rocket-shelduer-sub002/vault"
)

// Kind is the failure taxonomy stored with failed messages.
type Kind string

const (
	KindUnreachable Kind = "unreachable"
	KindAuth        Kind = "auth"
	KindRejected    Kind = "rejected"
	KindCredentials Kind = "credentials"
	KindInternal    Kind = "internal"
)

const (
	MsgUnreachable           = "workspace unreachable"
	MsgAuthFailed            = "workspace authentication failed"
	MsgRejected              = "message rejected by workspace"
	MsgCredentials           = "stored credentials could not be decrypted"
	MsgConnectionUnavailable = "connection unavailable"
	MsgInterrupted           = "delivery interrupted"
	MsgInternal              = "internal error"
)

var (
	// ErrConnectionUnavailable means the message's connection is gone or
	// does not belong to the message owner.
	ErrConnectionUnavailable = errors.New(MsgConnectionUnavailable)
	ErrInterrupted           = errors.New(MsgInterrupted)
)

// Classify maps a delivery error to its kind and the fixed text stored on
// the message. The text never carries remote or credential detail.
func Classify(err error) (Kind, string) {
	switch {
	case err == nil:
		return "", ""
	case errors.Is(err, vault.ErrDecryptionFailed):
		return KindCredentials, MsgCredentials
	case errors.Is(err, ErrConnectionUnavailable):
		return KindInternal, MsgConnectionUnavailable
	case errors.Is(err, ErrInterrupted):
		return KindInternal, MsgInterrupted
	}

	switch rocketchat.KindOf(err) {
	case rocketchat.KindTransport:
		return KindUnreachable, MsgUnreachable
	case rocketchat.KindAuth:
		return KindAuth, MsgAuthFailed
	case rocketchat.KindSemantic:
		return KindRejected, MsgRejected
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindUnreachable, MsgUnreachable
	}
	return KindInternal, MsgInternal
}
