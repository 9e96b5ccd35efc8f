// Package status defines the closed status and verdict vocabulary shared by
// every policy component in the quote verification core: the per-level TCB
// status strings found in collateral documents, the narrower module-status
// and QE-outcome enumerations produced by the module and enclave-identity
// checks, and the final verdict values a verification run can return.
package status

import "fmt"

// TCBStatus is the status string attached to a TCB level in a TcbInfo
// document, a TDX module identity's TCB level, or an enclave identity's
// TCB level. It is a closed vocabulary. Collateral parsing stores the
// string as given; an unrecognized value is reported as
// TCB_UNRECOGNIZED_STATUS when it reaches converge.TCB, tdxmodule.Check,
// or the orchestrator's SGX verdict mapping.
type TCBStatus string

// The permitted values of TCBStatus, per the TCB-level vocabulary.
const (
	UpToDate                          TCBStatus = "UpToDate"
	OutOfDate                         TCBStatus = "OutOfDate"
	ConfigurationNeeded               TCBStatus = "ConfigurationNeeded"
	Revoked                           TCBStatus = "Revoked"
	OutOfDateConfigurationNeeded      TCBStatus = "OutOfDateConfigurationNeeded"
	SWHardeningNeeded                 TCBStatus = "SWHardeningNeeded"
	ConfigurationAndSWHardeningNeeded TCBStatus = "ConfigurationAndSWHardeningNeeded"
)

var tcbStatuses = map[TCBStatus]bool{
	UpToDate:                          true,
	OutOfDate:                         true,
	ConfigurationNeeded:               true,
	Revoked:                           true,
	OutOfDateConfigurationNeeded:      true,
	SWHardeningNeeded:                 true,
	ConfigurationAndSWHardeningNeeded: true,
}

// Valid reports whether s is one of the seven TCB-level statuses.
func (s TCBStatus) Valid() bool { return tcbStatuses[s] }

// moduleStatuses is the restricted 3-value vocabulary a TDX module's TCB
// level status, or a TDX module identity's overall status, may take.
var moduleStatuses = map[TCBStatus]bool{
	UpToDate:  true,
	OutOfDate: true,
	Revoked:   true,
}

// ValidModuleStatus reports whether s is one of the three statuses a TDX
// module TCB level is permitted to carry.
func (s TCBStatus) ValidModuleStatus() bool { return moduleStatuses[s] }

// QEOutcome is the result of checking a QE (Quoting Enclave) report's
// ISVSVN against an enclave identity's TCB level list. It feeds into
// StatusConverger.QE as qeStatus.
type QEOutcome int

const (
	// QENone means no enclave identity document was supplied; the QE
	// status check did not run.
	QENone QEOutcome = iota
	// QEOK means the report's ISVSVN matched a level with status UpToDate.
	QEOK
	// QEISVSVNOutOfDate means the matched level's status was anything
	// other than UpToDate or Revoked.
	QEISVSVNOutOfDate
	// QEISVSVNRevoked means the matched level's status was Revoked.
	QEISVSVNRevoked
	// QEISVSVNNotSupported means no TCB level had an ISVSVN less than or
	// equal to the report's ISVSVN.
	QEISVSVNNotSupported
)

// Verdict is the closed set of final results a verification run, or an
// intermediate convergence step, can produce.
type Verdict string

// The permitted values of Verdict.
const (
	OK                                       Verdict = "OK"
	TCBOutOfDate                             Verdict = "TCB_OUT_OF_DATE"
	TCBOutOfDateConfigurationNeeded          Verdict = "TCB_OUT_OF_DATE_CONFIGURATION_NEEDED"
	TCBSWHardeningNeeded                     Verdict = "TCB_SW_HARDENING_NEEDED"
	TCBConfigurationNeeded                   Verdict = "TCB_CONFIGURATION_NEEDED"
	TCBConfigurationAndSWHardeningNeeded     Verdict = "TCB_CONFIGURATION_AND_SW_HARDENING_NEEDED"
	TCBTDRelaunchAdvised                     Verdict = "TCB_TD_RELAUNCH_ADVISED"
	TCBTDRelaunchAdvisedConfigurationNeeded  Verdict = "TCB_TD_RELAUNCH_ADVISED_CONFIGURATION_NEEDED"
	TCBRevoked                               Verdict = "TCB_REVOKED"
	TCBNotSupported                          Verdict = "TCB_NOT_SUPPORTED"
	TCBUnrecognizedStatus                    Verdict = "TCB_UNRECOGNIZED_STATUS"
	TCBInfoMismatch                          Verdict = "TCB_INFO_MISMATCH"
	TDXModuleMismatch                        Verdict = "TDX_MODULE_MISMATCH"
	QEIdentityMismatch                       Verdict = "QE_IDENTITY_MISMATCH"
	InvalidPCKCert                           Verdict = "INVALID_PCK_CERT"
	InvalidPCKCRL                            Verdict = "INVALID_PCK_CRL"
	PCKRevoked                               Verdict = "PCK_REVOKED"
	InvalidQEReportSignature                 Verdict = "INVALID_QE_REPORT_SIGNATURE"
	InvalidQEReportData                      Verdict = "INVALID_QE_REPORT_DATA"
	InvalidQuoteSignature                    Verdict = "INVALID_QUOTE_SIGNATURE"
	UnsupportedQuoteFormat                   Verdict = "UNSUPPORTED_QUOTE_FORMAT"
	UnsupportedQEIdentityFormat              Verdict = "UNSUPPORTED_QE_IDENTITY_FORMAT"
)

// tcbToVerdict maps the passthrough branch of the seven-value TCBStatus
// vocabulary onto the matching final verdict, used by converge.TCB's
// "else" branch.
var tcbToVerdict = map[TCBStatus]Verdict{
	UpToDate:                          OK,
	OutOfDate:                         TCBOutOfDate,
	ConfigurationNeeded:               TCBConfigurationNeeded,
	Revoked:                           TCBRevoked,
	OutOfDateConfigurationNeeded:      TCBOutOfDateConfigurationNeeded,
	SWHardeningNeeded:                 TCBSWHardeningNeeded,
	ConfigurationAndSWHardeningNeeded: TCBConfigurationAndSWHardeningNeeded,
}

// FromTCBStatus converts a raw TCB-level status string into its
// corresponding final verdict, for use by the passthrough branch of a
// converge function. The bool is false if s is not one of the seven
// recognized statuses.
func FromTCBStatus(s TCBStatus) (Verdict, bool) {
	v, ok := tcbToVerdict[s]
	return v, ok
}

// configurationGroup is the set of verdicts considered the
// "configuration group" — verdicts that indicate a BIOS/platform
// configuration problem rather than a pure firmware staleness problem.
var configurationGroup = map[Verdict]bool{
	TCBConfigurationNeeded:                  true,
	TCBOutOfDateConfigurationNeeded:         true,
	TCBConfigurationAndSWHardeningNeeded:    true,
	TCBTDRelaunchAdvisedConfigurationNeeded: true,
}

// IsConfigurationGroup reports whether v belongs to the configuration
// group consulted by the TD relaunch advisor.
func IsConfigurationGroup(v Verdict) bool { return configurationGroup[v] }

// allowedTDXVerdicts is the set of verdicts a TCB-status fold is allowed
// to pass through unchanged: the TCB-shaped outcomes, including the TD
// relaunch variants. Verdicts produced by earlier orchestration checks
// (INVALID_PCK_CERT, TCB_INFO_MISMATCH, UNSUPPORTED_QUOTE_FORMAT, ...)
// never reach a converge step, so they are deliberately excluded here;
// converge.QE reports status.TCBUnrecognizedStatus for anything not in
// this set.
var allowedTDXVerdicts = map[Verdict]bool{
	OK:                                      true,
	TCBOutOfDate:                            true,
	TCBOutOfDateConfigurationNeeded:         true,
	TCBSWHardeningNeeded:                    true,
	TCBConfigurationNeeded:                  true,
	TCBConfigurationAndSWHardeningNeeded:    true,
	TCBTDRelaunchAdvised:                    true,
	TCBTDRelaunchAdvisedConfigurationNeeded: true,
	TCBRevoked:                              true,
	TCBNotSupported:                         true,
}

// IsAllowedVerdict reports whether v is a verdict a converge step may
// pass through unchanged.
func IsAllowedVerdict(v Verdict) bool { return allowedTDXVerdicts[v] }

// VerdictError pairs a terminal Verdict with a human-readable reason. It
// lets a policy component signal "this is the final answer, stop here"
// through ordinary Go error-return control flow, rather than by exposing
// a distinct sentinel type per component.
type VerdictError struct {
	Verdict Verdict
	Reason  string
}

// NewVerdictError builds a VerdictError for v with the given reason.
func NewVerdictError(v Verdict, reason string) *VerdictError {
	return &VerdictError{Verdict: v, Reason: reason}
}

func (e *VerdictError) Error() string {
	return fmt.Sprintf("%s: %s", e.Verdict, e.Reason)
}

// AsVerdictError reports whether err is a *VerdictError, and returns it.
func AsVerdictError(err error) (*VerdictError, bool) {
	ve, ok := err.(*VerdictError)
	return ve, ok
}
