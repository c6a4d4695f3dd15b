// Package nerr defines Nitrogen's error taxonomy: a closed set of
// variants distinguishing user-recoverable conditions (portal denied,
// bad config, missing source) from hard failures (codec/driver bugs),
// plus optional multi-line hints surfaced to the CLI.
package nerr

import "fmt"

// Kind discriminates the taxonomy described in spec §7.
type Kind int

const (
	KindPortal Kind = iota
	KindPipeWire
	KindEncoder
	KindNvenc
	KindConfig
	KindSourceNotFound
	KindNoActiveSession
	KindSessionAlreadyRunning
	KindUnsupported
	KindWebRTC
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindPortal:
		return "Portal"
	case KindPipeWire:
		return "PipeWire"
	case KindEncoder:
		return "Encoder"
	case KindNvenc:
		return "Nvenc"
	case KindConfig:
		return "Config"
	case KindSourceNotFound:
		return "SourceNotFound"
	case KindNoActiveSession:
		return "NoActiveSession"
	case KindSessionAlreadyRunning:
		return "SessionAlreadyRunning"
	case KindUnsupported:
		return "Unsupported"
	case KindWebRTC:
		return "WebRTC"
	case KindIO:
		return "Io"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type for every Nitrogen-generated
// failure. Detail carries the free-form message (or, for
// SourceNotFound, the source id).
type Error struct {
	Kind   Kind
	Detail string
	cause  error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind.String(), e.Detail)
}

func (e *Error) Unwrap() error { return e.cause }

func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

func Wrap(kind Kind, cause error) *Error {
	detail := ""
	if cause != nil {
		detail = cause.Error()
	}
	return &Error{Kind: kind, Detail: detail, cause: cause}
}

func Portal(msg string) *Error                { return New(KindPortal, msg) }
func PipeWire(msg string) *Error              { return New(KindPipeWire, msg) }
func Encoder(msg string) *Error               { return New(KindEncoder, msg) }
func Nvenc(msg string) *Error                 { return New(KindNvenc, msg) }
func Config(msg string) *Error                { return New(KindConfig, msg) }
func SourceNotFound(id string) *Error         { return New(KindSourceNotFound, id) }
func WebRTCErr(msg string) *Error             { return New(KindWebRTC, msg) }
func Unsupported(detail string) *Error        { return New(KindUnsupported, detail) }
func IO(err error) *Error                     { return Wrap(KindIO, err) }

var (
	ErrNoActiveSession       = New(KindNoActiveSession, "")
	ErrSessionAlreadyRunning = New(KindSessionAlreadyRunning, "")
)

// WithContext is a recursive wrapper that accretes a breadcrumb onto
// an existing error without losing the original hint: UserHint walks
// through it to the innermost *Error.
type WithContext struct {
	Context string
	Source  error
}

func (w *WithContext) Error() string {
	return fmt.Sprintf("%s: %s", w.Context, w.Source.Error())
}

func (w *WithContext) Unwrap() error { return w.Source }

// Context wraps err (which may itself already be wrapped) with an
// additional breadcrumb, preserving the original error for
// errors.Is/As and UserHint.
func Context(err error, context string) error {
	if err == nil {
		return nil
	}
	return &WithContext{Context: context, Source: err}
}

// innermost walks a WithContext/Error chain down to the base *Error,
// mirroring the recursive descent the Rust source performs in
// NitrogenError::user_hint for the WithContext variant.
func innermost(err error) *Error {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e
		}
		if wc, ok := err.(*WithContext); ok {
			err = wc.Source
			continue
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil
		}
		err = u.Unwrap()
	}
	return nil
}

// UserHint returns a multi-line, user-facing hint for the error's
// root taxonomy variant, or "" if none applies.
func UserHint(err error) string {
	e := innermost(err)
	if e == nil {
		return ""
	}
	switch e.Kind {
	case KindPortal:
		return "Ensure xdg-desktop-portal is running and your compositor supports screen sharing.\n" +
			"Try: systemctl --user restart xdg-desktop-portal"
	case KindPipeWire:
		return "Ensure PipeWire is running: systemctl --user status pipewire\n" +
			"Try: systemctl --user restart pipewire"
	case KindEncoder:
		return "Check that FFmpeg was compiled with the expected hardware encoder support.\n" +
			"Try: ffmpeg -encoders | grep nvenc"
	case KindNvenc:
		return "Ensure you have a GPU with hardware encode support and up-to-date drivers.\n" +
			"Try: nvidia-smi"
	case KindConfig:
		return "Check your configuration file at $XDG_CONFIG_HOME/nitrogen/config.toml"
	case KindSourceNotFound:
		return "Use 'nitrogen list' to see available capture sources,\n" +
			"or omit the source to use the portal picker."
	case KindNoActiveSession:
		return "No capture session is currently running. Start one with: nitrogen cast"
	case KindSessionAlreadyRunning:
		return "A capture session is already running.\n" +
			"Use 'nitrogen stop' to stop it first, or 'nitrogen status' to check its state."
	case KindWebRTC:
		return "Check your network configuration and ensure ICE servers are accessible."
	default:
		return ""
	}
}

// IsUserRecoverable reports whether the root cause is a condition the
// user can act on directly, versus a code/driver bug.
func IsUserRecoverable(err error) bool {
	e := innermost(err)
	if e == nil {
		return false
	}
	switch e.Kind {
	case KindPortal, KindPipeWire, KindConfig, KindSourceNotFound,
		KindNoActiveSession, KindSessionAlreadyRunning:
		return true
	default:
		return false
	}
}
