// Package relaunch implements the TD relaunch advisor: for TDX v1.5
// quotes carrying a second, post-relaunch TEE TCB SVN, it decides whether
// relaunching the TD on the firmware that SVN describes would already
// satisfy the latest known TCB level, and if so replaces the TDX verdict
// with a relaunch-advised variant instead of leaving it out-of-date.
package relaunch

import (
	"github.com/tdxverify/dcap/collateral"
	"github.com/tdxverify/dcap/status"
)

// gateOpen reports whether the relaunch advisor may run at all: the QE
// outcome must not itself be a problem, the SGX verdict must be one that
// does not already indicate staleness or revocation, the TDX verdict must
// be out-of-date (possibly with configuration needed), and the TDX
// module must be out-of-date.
func gateOpen(sgxVerdict, tdxVerdict status.Verdict, moduleStatus status.TCBStatus, qe status.QEOutcome) bool {
	if qe != status.QENone && qe != status.QEOK {
		return false
	}
	switch sgxVerdict {
	case status.OK, status.TCBSWHardeningNeeded, status.TCBConfigurationNeeded, status.TCBConfigurationAndSWHardeningNeeded:
	default:
		return false
	}
	switch tdxVerdict {
	case status.TCBOutOfDate, status.TCBOutOfDateConfigurationNeeded:
	default:
		return false
	}
	return moduleStatus == status.OutOfDate
}

// Advise runs the TD relaunch advisor for a TDReport15's second TEE TCB
// SVN (teeTcbSvn2). When the gate does not open, tdxVerdict is returned
// unchanged. When it opens but the post-relaunch SVN would still not
// satisfy the latest TCB level, tdxVerdict is again returned unchanged.
// Otherwise a TD_RELAUNCH_ADVISED (or _CONFIGURATION_NEEDED, if either
// input verdict was already in the configuration group) verdict is
// returned.
func Advise(teeTcbSvn2 [16]byte, info collateral.TCBInfo, sgxVerdict, tdxVerdict status.Verdict, moduleStatus status.TCBStatus, qe status.QEOutcome) (status.Verdict, error) {
	if !gateOpen(sgxVerdict, tdxVerdict, moduleStatus, qe) {
		return tdxVerdict, nil
	}

	if len(info.TCBLevels) == 0 {
		return "", status.NewVerdictError(status.TCBNotSupported, "no TCB levels to relaunch against")
	}
	latest := info.TCBLevels[0]

	postRelaunchISVSVN := teeTcbSvn2[0]
	postRelaunchModuleVersion := teeTcbSvn2[1]
	postRelaunchComponent2 := teeTcbSvn2[2]

	var satisfied bool
	if postRelaunchModuleVersion == 0 {
		satisfied = postRelaunchISVSVN >= latest.TCB.TDXTCBComponents[0].SVN &&
			postRelaunchComponent2 >= latest.TCB.TDXTCBComponents[2].SVN
	} else {
		moduleIdentity, ok := info.FindTdxModuleIdentity(postRelaunchModuleVersion)
		if !ok {
			return "", status.NewVerdictError(status.TDXModuleMismatch, "no TDX module identity found for the post-relaunch module version")
		}
		if len(moduleIdentity.TCBLevels) == 0 {
			return "", status.NewVerdictError(status.TCBNotSupported, "resolved TDX module identity has no TCB levels")
		}
		latestModuleLevel := moduleIdentity.TCBLevels[0]

		satisfied = uint16(postRelaunchISVSVN) >= latestModuleLevel.ISVSVN &&
			postRelaunchComponent2 >= latest.TCB.TDXTCBComponents[2].SVN
	}

	if !satisfied {
		return tdxVerdict, nil
	}

	if status.IsConfigurationGroup(sgxVerdict) || status.IsConfigurationGroup(tdxVerdict) {
		return status.TCBTDRelaunchAdvisedConfigurationNeeded, nil
	}
	return status.TCBTDRelaunchAdvised, nil
}
