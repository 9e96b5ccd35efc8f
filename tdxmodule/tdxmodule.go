// Package tdxmodule resolves a TDX SEAM module's identity from a quote's
// TEE TCB SVN and a TcbInfo document, and classifies its TCB status.
package tdxmodule

import (
	"fmt"

	"github.com/tdxverify/dcap/collateral"
	"github.com/tdxverify/dcap/status"
)

// Check resolves the TDX module asserted by teeTcbSvn (whose byte 1 holds
// the module version and byte 0 the module ISVSVN) against info's module
// identity list, and returns its TCB status.
//
// The resolved identity is also returned (package verify does not use it;
// it resolves the identity itself for its MRSIGNERSEAM/SEAMATTRIBUTES
// check); it is nil when no module check was necessary (quote version > 3
// and module version 0) or when resolution fails.
func Check(teeTcbSvn [16]byte, quoteVersion uint16, info collateral.TCBInfo) (status.TCBStatus, *collateral.TdxModuleIdentity, error) {
	version := teeTcbSvn[1]
	isvSvn := teeTcbSvn[0]

	if quoteVersion > 3 && version == 0 {
		return status.UpToDate, nil, nil
	}

	identity, ok := info.FindTdxModuleIdentity(version)
	if !ok {
		return "", nil, status.NewVerdictError(status.TDXModuleMismatch, fmt.Sprintf("no TDX module identity found for module version 0x%02x", version))
	}

	var selected *collateral.TdxModuleTCBLevel
	for i := range identity.TCBLevels {
		level := identity.TCBLevels[i]
		if level.ISVSVN <= uint16(isvSvn) {
			selected = &level
			break
		}
	}
	if selected == nil {
		return "", identity, status.NewVerdictError(status.TCBNotSupported, "no TDX module TCB level matches the module ISVSVN")
	}

	if !selected.Status.ValidModuleStatus() {
		return "", identity, status.NewVerdictError(status.TCBUnrecognizedStatus, fmt.Sprintf("TDX module TCB level has an unrecognized status %q", selected.Status))
	}

	return selected.Status, identity, nil
}
