package health

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net"
	"reflect"
	"runtime"

	"framebridge/transport"
)

// Kind classifies a probe failure for reporting.
type Kind int

const (
	KindNone Kind = iota
	KindTimeout
	KindNetwork
	KindPermission
	KindCORS
	KindType
	KindReference
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTimeout:
		return "timeout"
	case KindNetwork:
		return "network"
	case KindPermission:
		return "permission"
	case KindCORS:
		return "cors"
	case KindType:
		return "type"
	case KindReference:
		return "reference"
	default:
		return "unknown"
	}
}

var (
	// ErrCrossOrigin is returned by direct probes that cannot reach into a cross-origin frame.
	ErrCrossOrigin = errors.New("health: cross-origin access denied")

	ErrPermission = errors.New("health: permission denied")
)

type timeout interface{ Timeout() bool }

// Classify maps err onto a Kind by its type and identity.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}

	var te timeout
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &te) && te.Timeout()) {
		return KindTimeout
	}
	if errors.Is(err, ErrCrossOrigin) {
		return KindCORS
	}
	if errors.Is(err, ErrPermission) || errors.Is(err, fs.ErrPermission) {
		return KindPermission
	}

	var (
		netErr    net.Error
		opErr     *net.OpError
		typeErr   *json.UnmarshalTypeError
		unsupErr  *json.UnsupportedTypeError
		valueErr  *reflect.ValueError
		assertErr *runtime.TypeAssertionError
		rtErr     runtime.Error
	)
	switch {
	case errors.Is(err, transport.ErrClosed), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.As(err, &opErr), errors.As(err, &netErr):
		return KindNetwork
	case errors.As(err, &typeErr), errors.As(err, &unsupErr), errors.As(err, &valueErr), errors.As(err, &assertErr):
		return KindType
	case errors.As(err, &rtErr):
		return KindReference
	default:
		return KindUnknown
	}
}
