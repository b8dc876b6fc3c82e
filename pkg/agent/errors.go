package agent

import "errors"

var (
	// ErrInvalidReport means the inbound failure report is missing
	// required fields. No record is created.
	ErrInvalidReport = errors.New("invalid error report")

	// ErrEmptyMessage means an ask action arrived without question text.
	ErrEmptyMessage = errors.New("message text is required")

	// ErrApplyFailed means an approved proposal could not be applied.
	// The record was reset to pending so the human can retry.
	ErrApplyFailed = errors.New("fix application failed")

	// ErrAnalysisFailed means the analysis capability produced no usable
	// result. For report intake this leaves no record behind.
	ErrAnalysisFailed = errors.New("analysis failed")
)

// IsInvalidReport checks whether err stems from a malformed report.
func IsInvalidReport(err error) bool {
	return errors.Is(err, ErrInvalidReport)
}

// IsApplyFailed checks whether err stems from a failed fix application.
func IsApplyFailed(err error) bool {
	return errors.Is(err, ErrApplyFailed)
}

// IsAnalysisFailed checks whether err stems from the analysis capability.
func IsAnalysisFailed(err error) bool {
	return errors.Is(err, ErrAnalysisFailed)
}
