// Package errors classifies every failure crash reports to the operator.
//
// Each error carries a Kind from a closed set. The CLI maps the kind to a
// process exit code and prints it, so callers can branch on the class of a
// failure without parsing messages.
package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind identifies the class of a failure.
type Kind string

const (
	KindUnsupportedPlatform        Kind = "UnsupportedPlatform"
	KindAllMirrorsExhausted        Kind = "AllMirrorsExhausted"
	KindInstallInProgress          Kind = "InstallInProgress"
	KindServiceOperationInProgress Kind = "ServiceOperationInProgress"
	KindInvalidConfigDocument      Kind = "InvalidConfigDocument"
	KindNoURLConfigured            Kind = "NoUrlConfigured"
	KindProcessLaunchFailed        Kind = "ProcessLaunchFailed"
	KindProcessStopTimeout         Kind = "ProcessStopTimeout"
	KindConfigUpdateInProgress     Kind = "ConfigUpdateInProgress"

	// Infrastructure kinds for wrapped I/O, network and input failures.
	KindValidation Kind = "Validation"
	KindIO         Kind = "IO"
	KindNetwork    Kind = "Network"
	KindInternal   Kind = "Internal"
)

// exitCodes maps each kind to the CLI exit status. Zero is reserved for
// success and the non-fatal stop timeout.
var exitCodes = map[Kind]int{
	KindInternal:                   1,
	KindValidation:                 2,
	KindUnsupportedPlatform:        3,
	KindAllMirrorsExhausted:        4,
	KindInstallInProgress:          5,
	KindServiceOperationInProgress: 6,
	KindInvalidConfigDocument:      7,
	KindNoURLConfigured:            8,
	KindProcessLaunchFailed:        9,
	KindIO:                         10,
	KindNetwork:                    11,
	KindConfigUpdateInProgress:     12,
	KindProcessStopTimeout:         0,
}

// Sentinels usable with errors.Is. Matching compares kinds only.
var (
	ErrUnsupportedPlatform        = &Error{Kind: KindUnsupportedPlatform}
	ErrAllMirrorsExhausted        = &Error{Kind: KindAllMirrorsExhausted}
	ErrInstallInProgress          = &Error{Kind: KindInstallInProgress}
	ErrServiceOperationInProgress = &Error{Kind: KindServiceOperationInProgress}
	ErrInvalidConfigDocument      = &Error{Kind: KindInvalidConfigDocument}
	ErrNoURLConfigured            = &Error{Kind: KindNoURLConfigured}
	ErrProcessLaunchFailed        = &Error{Kind: KindProcessLaunchFailed}
	ErrProcessStopTimeout         = &Error{Kind: KindProcessStopTimeout}
	ErrConfigUpdateInProgress     = &Error{Kind: KindConfigUpdateInProgress}
)

// Error is a classified failure with the operation and resource involved.
type Error struct {
	Kind     Kind
	Op       string // e.g. "install core", "config update"
	Resource string // path or URL the operation touched
	Message  string
	Cause    error
	Context  map[string]any
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Message != "" {
		b.WriteString(e.Message)
	} else {
		b.WriteString(string(e.Kind))
	}
	if e.Resource != "" {
		fmt.Fprintf(&b, " (%s)", e.Resource)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other != nil && e.Kind == other.Kind
	}
	return false
}

// WithContext attaches a key/value pair shown by Details.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithResource records the path or URL the failure relates to.
func (e *Error) WithResource(resource string) *Error {
	e.Resource = resource
	return e
}

// Details renders the context map in stable key order.
func (e *Error) Details() string {
	if len(e.Context) == 0 {
		return ""
	}
	keys := make([]string, 0, len(e.Context))
	for k := range e.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, e.Context[k]))
	}
	return strings.Join(parts, " ")
}

// New creates a classified error.
func New(kind Kind, op, message string, cause error) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
		Cause:   cause,
	}
}

// Wrap classifies cause unless it is already classified, in which case the
// original kind is preserved and only the operation is prefixed.
func Wrap(kind Kind, op string, cause error) error {
	if cause == nil {
		return nil
	}
	var existing *Error
	if errors.As(cause, &existing) {
		if op == "" {
			return cause
		}
		return &Error{Kind: existing.Kind, Op: op, Cause: cause, Message: "failed"}
	}
	return &Error{Kind: kind, Op: op, Message: "failed", Cause: cause}
}

// IO wraps a filesystem failure on path.
func IO(op, path string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: KindIO, Op: op, Resource: path, Message: "filesystem error", Cause: cause}
}

// Network wraps a transport failure on url.
func Network(op, url string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: KindNetwork, Op: op, Resource: url, Message: "network error", Cause: cause}
}

// Validation reports rejected operator input.
func Validation(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the outermost classified error in err's chain.
// Unclassified errors are KindInternal. A nil error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// ExitCode returns the process exit status for err.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if code, ok := exitCodes[KindOf(err)]; ok {
		return code
	}
	return 1
}

// IsFatal reports whether err should fail the command. A stop that had to
// escalate to a forced kill still leaves the core stopped.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err) != KindProcessStopTimeout
}

// Error checking helpers

func IsUnsupportedPlatform(err error) bool { return errors.Is(err, ErrUnsupportedPlatform) }

func IsAllMirrorsExhausted(err error) bool { return errors.Is(err, ErrAllMirrorsExhausted) }

func IsInstallInProgress(err error) bool { return errors.Is(err, ErrInstallInProgress) }

func IsServiceOperationInProgress(err error) bool {
	return errors.Is(err, ErrServiceOperationInProgress)
}

func IsInvalidConfigDocument(err error) bool { return errors.Is(err, ErrInvalidConfigDocument) }

func IsNoURLConfigured(err error) bool { return errors.Is(err, ErrNoURLConfigured) }

func IsProcessLaunchFailed(err error) bool { return errors.Is(err, ErrProcessLaunchFailed) }

func IsProcessStopTimeout(err error) bool { return errors.Is(err, ErrProcessStopTimeout) }

func IsConfigUpdateInProgress(err error) bool { return errors.Is(err, ErrConfigUpdateInProgress) }
