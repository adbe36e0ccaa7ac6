package securechannel

// GeneralCode is the protocol-independent outcome carried by every status
// report.
type GeneralCode uint16

const (
	GeneralCodeSuccess           GeneralCode = 0
	GeneralCodeFailure           GeneralCode = 1
	GeneralCodeBadPrecondition   GeneralCode = 2
	GeneralCodeOutOfRange        GeneralCode = 3
	GeneralCodeBadRequest        GeneralCode = 4
	GeneralCodeUnsupported       GeneralCode = 5
	GeneralCodeUnexpected        GeneralCode = 6
	GeneralCodeResourceExhausted GeneralCode = 7
	GeneralCodeBusy              GeneralCode = 8
	GeneralCodeTimeout           GeneralCode = 9
	GeneralCodeContinue          GeneralCode = 10
	GeneralCodeAborted           GeneralCode = 11
	GeneralCodeInvalidArgument   GeneralCode = 12
	GeneralCodeNotFound          GeneralCode = 13
	GeneralCodeAlreadyExists     GeneralCode = 14
	GeneralCodePermissionDenied  GeneralCode = 15
	GeneralCodeDataLoss          GeneralCode = 16
)

var generalCodeNames = [...]string{
	GeneralCodeSuccess:           "SUCCESS",
	GeneralCodeFailure:           "FAILURE",
	GeneralCodeBadPrecondition:   "BAD_PRECONDITION",
	GeneralCodeOutOfRange:        "OUT_OF_RANGE",
	GeneralCodeBadRequest:        "BAD_REQUEST",
	GeneralCodeUnsupported:       "UNSUPPORTED",
	GeneralCodeUnexpected:        "UNEXPECTED",
	GeneralCodeResourceExhausted: "RESOURCE_EXHAUSTED",
	GeneralCodeBusy:              "BUSY",
	GeneralCodeTimeout:           "TIMEOUT",
	GeneralCodeContinue:          "CONTINUE",
	GeneralCodeAborted:           "ABORTED",
	GeneralCodeInvalidArgument:   "INVALID_ARGUMENT",
	GeneralCodeNotFound:          "NOT_FOUND",
	GeneralCodeAlreadyExists:     "ALREADY_EXISTS",
	GeneralCodePermissionDenied:  "PERMISSION_DENIED",
	GeneralCodeDataLoss:          "DATA_LOSS",
}

func (g GeneralCode) String() string {
	if int(g) < len(generalCodeNames) {
		return generalCodeNames[g]
	}
	return "UNKNOWN"
}

// ProtocolCode is a secure channel specific status.
type ProtocolCode uint16

const (
	ProtocolCodeSuccess         ProtocolCode = 0x0000
	ProtocolCodeNoSharedRoot    ProtocolCode = 0x0001
	ProtocolCodeInvalidParam    ProtocolCode = 0x0002
	ProtocolCodeCloseSession    ProtocolCode = 0x0003
	ProtocolCodeBusy            ProtocolCode = 0x0004
	ProtocolCodeSessionNotFound ProtocolCode = 0x0005
	ProtocolCodeGeneralFailure  ProtocolCode = 0xFFFF
)

var protocolCodeNames = map[ProtocolCode]string{
	ProtocolCodeSuccess:         "SESSION_ESTABLISHED",
	ProtocolCodeNoSharedRoot:    "NO_SHARED_TRUST_ROOTS",
	ProtocolCodeInvalidParam:    "INVALID_PARAMETER",
	ProtocolCodeCloseSession:    "CLOSE_SESSION",
	ProtocolCodeBusy:            "BUSY",
	ProtocolCodeSessionNotFound: "SESSION_NOT_FOUND",
	ProtocolCodeGeneralFailure:  "GENERAL_FAILURE",
}

func (p ProtocolCode) String() string {
	if name, ok := protocolCodeNames[p]; ok {
		return name
	}
	return "UNKNOWN"
}
