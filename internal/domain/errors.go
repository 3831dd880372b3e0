package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Use with NewSubSystemError so ErrorCodeOf can resolve a
// subsystem-specific code.
var (
	ErrNotFound         = fmt.Errorf("not found")
	ErrDuplicate        = fmt.Errorf("duplicate")
	ErrTimeout          = fmt.Errorf("operation timed out")
	ErrLimitReached     = fmt.Errorf("limit reached")
	ErrPermissionDenied = fmt.Errorf("permission denied")
	ErrInvalidInput     = fmt.Errorf("invalid input")
	ErrProviderError    = fmt.Errorf("provider error")
	ErrUnavailable      = fmt.Errorf("unavailable")
)

// Sentinel errors for the hub.
var (
	ErrAgentNotFound    = fmt.Errorf("agent not found")
	ErrCommunication    = fmt.Errorf("agent communication failed")
	ErrChannelClosed    = fmt.Errorf("agent channel closed")
	ErrSessionNotFound  = fmt.Errorf("session not found")
	ErrDecisionNotFound = fmt.Errorf("decision not found")
	ErrDuplicateVote    = fmt.Errorf("agent already voted on decision")
	ErrNoViableOptions  = fmt.Errorf("no viable options found")
	ErrSafetyViolation  = fmt.Errorf("safety constraints violated")
	ErrConfigLoad       = fmt.Errorf("failed to load configuration")
	ErrDecryption       = fmt.Errorf("decryption failed")
	ErrRateLimit        = fmt.Errorf("rate limit exceeded")
	ErrCircuitOpen      = fmt.Errorf("circuit breaker open")
	ErrAuthInvalid      = fmt.Errorf("authentication failed")

	// Port registry errors.
	ErrPortUnavailable    = fmt.Errorf("port unavailable")
	ErrAllocationNotFound = fmt.Errorf("port allocation not found")

	// Gateway / RPC errors.
	ErrGatewayAuthFailed = fmt.Errorf("gateway: %w", ErrAuthInvalid)
	ErrRPCMethodNotFound = fmt.Errorf("rpc method not found")
	ErrRPCInvalidPayload = fmt.Errorf("rpc payload invalid")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Communicator.SendToAgent")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "consensus"); used for ErrorCode dispatch
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// CommunicationError builds the error returned for a failed channel operation.
// The result matches both ErrCommunication and cause under errors.Is.
func CommunicationError(op, agentID string, cause error) error {
	return &DomainError{
		Op:        op,
		Err:       fmt.Errorf("%w: %w", ErrCommunication, cause),
		Detail:    agentID,
		SubSystem: "communication",
	}
}

// IsRetryableError reports whether err is a transient error that may succeed on retry.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrTimeout)
}

// ErrorCode is a machine-parseable error category for monitoring and transport mapping.
type ErrorCode string

const (
	CodeUnknown           ErrorCode = "UNKNOWN"
	CodeAgentNotFound     ErrorCode = "AGENT_NOT_FOUND"
	CodeCommunication     ErrorCode = "COMMUNICATION"
	CodeChannelClosed     ErrorCode = "CHANNEL_CLOSED"
	CodeSessionNotFound   ErrorCode = "SESSION_NOT_FOUND"
	CodeDecisionNotFound  ErrorCode = "DECISION_NOT_FOUND"
	CodeDuplicateVote     ErrorCode = "VOTE_DUPLICATE"
	CodeNoViableOptions   ErrorCode = "NO_VIABLE_OPTIONS"
	CodeSafetyViolation   ErrorCode = "SAFETY_VIOLATION"
	CodeConfigLoad        ErrorCode = "CONFIG_LOAD"
	CodeDecryption        ErrorCode = "DECRYPTION"
	CodeRateLimit         ErrorCode = "RATE_LIMIT"
	CodeCircuitOpen       ErrorCode = "CIRCUIT_OPEN"
	CodeAuthInvalid       ErrorCode = "AUTH_INVALID"
	CodePortUnavailable   ErrorCode = "PORT_UNAVAILABLE"
	CodeAllocationMissing ErrorCode = "ALLOCATION_NOT_FOUND"
	CodeGatewayAuth       ErrorCode = "GATEWAY_AUTH"
	CodeRPCMethodNotFound ErrorCode = "RPC_METHOD_NOT_FOUND"
	CodeRPCInvalidPayload ErrorCode = "RPC_INVALID_PAYLOAD"

	// Subsystem-specific codes resolved through subSystemCodeMap.
	CodeConnectorNotFound ErrorCode = "CONNECTOR_NOT_FOUND"
	CodeConnectorFailed   ErrorCode = "CONNECTOR_FAILED"
	CodeKnowledgeNotFound ErrorCode = "KNOWLEDGE_NOT_FOUND"
	CodeStoreKeyNotFound  ErrorCode = "STORE_KEY_NOT_FOUND"
	CodeStoreUnavailable  ErrorCode = "STORE_UNAVAILABLE"
	CodeSessionLimit      ErrorCode = "SESSION_LIMIT"
	CodeIntentInvalid     ErrorCode = "INTENT_INVALID"
	CodeDecisionInvalid   ErrorCode = "DECISION_INVALID"
	CodeAgentDuplicate    ErrorCode = "AGENT_DUPLICATE"
	CodeDecisionDuplicate ErrorCode = "DECISION_DUPLICATE"

	// Category fallback codes.
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeDuplicate        ErrorCode = "DUPLICATE"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeLimitReached     ErrorCode = "LIMIT_REACHED"
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	CodeInvalidInput     ErrorCode = "INVALID_INPUT"
	CodeProviderError    ErrorCode = "PROVIDER_ERROR"
	CodeUnavailable      ErrorCode = "UNAVAILABLE"
)

var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:         CodeNotFound,
	ErrDuplicate:        CodeDuplicate,
	ErrTimeout:          CodeTimeout,
	ErrLimitReached:     CodeLimitReached,
	ErrPermissionDenied: CodePermissionDenied,
	ErrInvalidInput:     CodeInvalidInput,
	ErrProviderError:    CodeProviderError,
	ErrUnavailable:      CodeUnavailable,

	ErrAgentNotFound:      CodeAgentNotFound,
	ErrChannelClosed:      CodeChannelClosed,
	ErrCommunication:      CodeCommunication,
	ErrSessionNotFound:    CodeSessionNotFound,
	ErrDecisionNotFound:   CodeDecisionNotFound,
	ErrDuplicateVote:      CodeDuplicateVote,
	ErrNoViableOptions:    CodeNoViableOptions,
	ErrSafetyViolation:    CodeSafetyViolation,
	ErrConfigLoad:         CodeConfigLoad,
	ErrDecryption:         CodeDecryption,
	ErrRateLimit:          CodeRateLimit,
	ErrCircuitOpen:        CodeCircuitOpen,
	ErrAuthInvalid:        CodeAuthInvalid,
	ErrPortUnavailable:    CodePortUnavailable,
	ErrAllocationNotFound: CodeAllocationMissing,
	ErrGatewayAuthFailed:  CodeGatewayAuth,
	ErrRPCMethodNotFound:  CodeRPCMethodNotFound,
	ErrRPCInvalidPayload:  CodeRPCInvalidPayload,
}

// chainOrder fixes the errors.Is walk so that a chain carrying more than one
// sentinel (ErrCommunication wrapping ErrChannelClosed) resolves deterministically.
var chainOrder = []error{
	ErrChannelClosed,
	ErrAgentNotFound,
	ErrSessionNotFound,
	ErrDecisionNotFound,
	ErrDuplicateVote,
	ErrNoViableOptions,
	ErrSafetyViolation,
	ErrCircuitOpen,
	ErrRateLimit,
	ErrPortUnavailable,
	ErrAllocationNotFound,
	ErrGatewayAuthFailed,
	ErrAuthInvalid,
	ErrRPCMethodNotFound,
	ErrRPCInvalidPayload,
	ErrConfigLoad,
	ErrDecryption,
	ErrCommunication,
	ErrNotFound,
	ErrDuplicate,
	ErrTimeout,
	ErrLimitReached,
	ErrPermissionDenied,
	ErrInvalidInput,
	ErrProviderError,
	ErrUnavailable,
}

var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrNotFound: {
		"agent":     CodeAgentNotFound,
		"session":   CodeSessionNotFound,
		"consensus": CodeDecisionNotFound,
		"connector": CodeConnectorNotFound,
		"knowledge": CodeKnowledgeNotFound,
		"store":     CodeStoreKeyNotFound,
		"ports":     CodeAllocationMissing,
	},
	ErrDuplicate: {
		"consensus": CodeDecisionDuplicate,
		"agent":     CodeAgentDuplicate,
	},
	ErrInvalidInput: {
		"orchestration": CodeIntentInvalid,
		"decision":      CodeDecisionInvalid,
	},
	ErrLimitReached: {
		"orchestration": CodeSessionLimit,
		"ports":         CodePortUnavailable,
	},
	ErrProviderError: {
		"connector": CodeConnectorFailed,
	},
	ErrUnavailable: {
		"store": CodeStoreUnavailable,
	},
}

// ErrorCodeOf returns the machine-parseable error code for err.
// DomainErrors with a SubSystem are resolved through subSystemCodeMap first.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code := de.Code(); code != CodeUnknown {
			return code
		}
	}

	for _, sentinel := range chainOrder {
		if errors.Is(err, sentinel) {
			return errorCodeMap[sentinel]
		}
	}
	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		if subsysMap, ok := subSystemCodeMap[e.Err]; ok {
			if code, ok := subsysMap[e.SubSystem]; ok {
				return code
			}
		}
	}
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}
