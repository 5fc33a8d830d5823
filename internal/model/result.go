package model

// Result codes reported by the platform SMS manager, plus two values the
// tracker uses itself.
const (
	ResultOK                  = -1
	ResultNone                = 0
	ResultErrorGenericFailure = 1
	ResultErrorRadioOff       = 2
	ResultErrorNullPDU        = 3
	ResultErrorNoService      = 4
	ResultErrorLimitExceeded  = 5

	// ResultDeferred marks a part that was in flight when the process stopped.
	ResultDeferred = 100
	// ResultNoPending means every part of the record is Sent.
	ResultNoPending = 101
)

func IsDefinitiveFailure(code int) bool {
	switch code {
	case ResultErrorGenericFailure,
		ResultErrorRadioOff,
		ResultErrorNullPDU,
		ResultErrorNoService,
		ResultErrorLimitExceeded,
		ResultDeferred:
		return true
	}
	return false
}
