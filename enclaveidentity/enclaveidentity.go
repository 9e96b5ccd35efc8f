// Package enclaveidentity compares a Quoting Enclave's report against an
// enclave identity (QE/TD_QE/QVE) document: its MISCSELECT, attributes,
// and MRSIGNER/ISVPRODID must match; its ISVSVN is then classified
// against the document's TCB level list.
package enclaveidentity

import (
	"github.com/tdxverify/dcap/collateral"
	"github.com/tdxverify/dcap/quote"
	"github.com/tdxverify/dcap/status"
)

// Check validates report against identity and classifies report's ISVSVN.
// A MISCSELECT, attributes, MRSIGNER, or ISVPRODID mismatch is a terminal
// failure, reported as a *status.VerdictError carrying
// status.QEIdentityMismatch. An ISVSVN that is out-of-date, revoked, or
// not supported is not a terminal failure here — the caller forwards the
// returned status.QEOutcome to converge.QE.
func Check(report quote.EnclaveReport, identity collateral.EnclaveIdentity) (status.QEOutcome, error) {
	if report.MiscSelect&identity.MiscSelectMask != identity.MiscSelect {
		return status.QENone, status.NewVerdictError(status.QEIdentityMismatch, "QE report MISCSELECT does not match the enclave identity")
	}

	for i := 0; i < 16; i++ {
		if report.Attributes[i]&identity.AttributesMask[i] != identity.Attributes[i] {
			return status.QENone, status.NewVerdictError(status.QEIdentityMismatch, "QE report ATTRIBUTES does not match the enclave identity")
		}
	}

	if identity.MRSIGNER != [32]byte{} && report.MRSIGNER != identity.MRSIGNER {
		return status.QENone, status.NewVerdictError(status.QEIdentityMismatch, "QE report MRSIGNER does not match the enclave identity")
	}

	if report.ISVProdID != identity.ISVProdID {
		return status.QENone, status.NewVerdictError(status.QEIdentityMismatch, "QE report ISVPRODID does not match the enclave identity")
	}

	var selected *collateral.EnclaveTCBLevel
	for i := range identity.TCBLevels {
		level := identity.TCBLevels[i]
		if level.ISVSVN <= report.ISVSVN {
			selected = &level
			break
		}
	}
	if selected == nil {
		return status.QEISVSVNNotSupported, nil
	}

	switch selected.Status {
	case status.UpToDate:
		return status.QEOK, nil
	case status.Revoked:
		return status.QEISVSVNRevoked, nil
	default:
		return status.QEISVSVNOutOfDate, nil
	}
}
