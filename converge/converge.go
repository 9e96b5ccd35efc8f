// Package converge implements the status-convergence lattice: folding a
// TDX module's status into a TCB level's status, and folding a QE
// (Quoting Enclave) identity outcome into the result, both respecting the
// priority order REVOKED > NOT_SUPPORTED > OUT_OF_DATE_CONFIGURATION_NEEDED
// > OUT_OF_DATE > CONFIGURATION_AND_SW_HARDENING_NEEDED >
// CONFIGURATION_NEEDED > SW_HARDENING_NEEDED > TD_RELAUNCH_* > OK.
package converge

import "github.com/tdxverify/dcap/status"

// TCB folds a TCB level's status with a TDX module's status into a final
// verdict. A revoked module always wins; an out-of-date module escalates
// an otherwise-clean or merely-hardening-needed TCB level to out-of-date,
// and escalates a configuration-needed level to
// out-of-date-configuration-needed. In every other combination,
// tcbLevelStatus passes through unchanged.
func TCB(tcbLevelStatus, moduleStatus status.TCBStatus) status.Verdict {
	if moduleStatus == status.Revoked {
		return status.TCBRevoked
	}

	if moduleStatus == status.OutOfDate {
		switch tcbLevelStatus {
		case status.UpToDate, status.SWHardeningNeeded:
			return status.TCBOutOfDate
		case status.ConfigurationNeeded, status.ConfigurationAndSWHardeningNeeded:
			return status.TCBOutOfDateConfigurationNeeded
		}
	}

	if v, ok := status.FromTCBStatus(tcbLevelStatus); ok {
		return v
	}
	return status.TCBUnrecognizedStatus
}

// QE folds a verdict already computed by TCB (and possibly by the TD
// relaunch advisor) with a QE identity check outcome into the final
// verdict. A revoked or unsupported QE ISVSVN always wins outright; an
// out-of-date QE ISVSVN escalates the same way an out-of-date module does
// in TCB. In every other combination, current passes through unchanged
// if it is itself an allowed TDX verdict.
func QE(current status.Verdict, qe status.QEOutcome) status.Verdict {
	switch qe {
	case status.QEISVSVNRevoked:
		return status.TCBRevoked
	case status.QEISVSVNNotSupported:
		return status.TCBNotSupported
	case status.QEISVSVNOutOfDate:
		switch current {
		case status.OK, status.TCBSWHardeningNeeded:
			return status.TCBOutOfDate
		case status.TCBConfigurationNeeded, status.TCBConfigurationAndSWHardeningNeeded:
			return status.TCBOutOfDateConfigurationNeeded
		}
	}

	if status.IsAllowedVerdict(current) {
		return current
	}
	return status.TCBUnrecognizedStatus
}
