// Package verify implements the top-level quote verification
// orchestrator: a fixed, ordered sequence of structural, cryptographic,
// and policy checks that ends in a single status.Verdict.
package verify

import (
	"bytes"
	"crypto/sha256"
	"crypto/x509"
	"fmt"
	"strings"

	"github.com/tdxverify/dcap/collateral"
	"github.com/tdxverify/dcap/converge"
	"github.com/tdxverify/dcap/crypto"
	"github.com/tdxverify/dcap/enclaveidentity"
	"github.com/tdxverify/dcap/pckext"
	"github.com/tdxverify/dcap/quote"
	"github.com/tdxverify/dcap/relaunch"
	"github.com/tdxverify/dcap/status"
	"github.com/tdxverify/dcap/tcb"
	"github.com/tdxverify/dcap/tdxmodule"
)

// pckCertChainLength is the number of certificates this core accepts in a
// quote's embedded PCK certificate chain: leaf, intermediate, root. A PCK
// certification data that is self-contained (the only kind this core
// accepts, see quote.CertDataPCKCertChain) always carries exactly this
// many certificates.
const pckCertChainLength = 3

// Verify parses rawQuote and runs the full ordered verification sequence
// against it: PCK certificate and CRL sanity, TCB Info / TEE-type
// coherence, TDX module identity, QE report signature and data binding,
// enclave identity (if supplied), the quote's own signature, and finally
// the TCB/module/QE status convergence. Any failure along the way is
// reported as a terminal status.Verdict; Verify never panics on
// malformed input.
func Verify(rawQuote []byte, pckCRL *x509.RevocationList, tcbInfo collateral.TCBInfo, qeIdentity *collateral.EnclaveIdentity) status.Verdict {
	v, err := verify(rawQuote, pckCRL, tcbInfo, qeIdentity)
	if err != nil {
		// Any error that is not a terminal VerdictError is a structural
		// parsing problem (a *quote.FormatError, possibly wrapped) — the
		// only other kind of error this package's dependencies produce.
		if ve, ok := status.AsVerdictError(err); ok {
			return ve.Verdict
		}
		return status.UnsupportedQuoteFormat
	}
	return v
}

func verify(rawQuote []byte, pckCRL *x509.RevocationList, tcbInfo collateral.TCBInfo, qeIdentity *collateral.EnclaveIdentity) (status.Verdict, error) {
	q, err := quote.ParseQuote(rawQuote)
	if err != nil {
		return "", fmt.Errorf("parsing quote: %w", err)
	}

	qeReport, err := q.Signature.QEReport()
	if err != nil {
		return "", fmt.Errorf("reading QE report: %w", err)
	}
	pckChain, err := crypto.ParsePCKCertChain(qeReport)
	if err != nil {
		return "", status.NewVerdictError(status.InvalidPCKCert, fmt.Sprintf("parsing PCK certificate chain: %v", err))
	}
	if len(pckChain) != pckCertChainLength {
		return "", status.NewVerdictError(status.InvalidPCKCert, fmt.Sprintf("PCK certificate chain has %d certificates, expected %d", len(pckChain), pckCertChainLength))
	}
	pckCert := pckChain[0]

	// Step 1: PCK certificate subject CN.
	if !strings.Contains(pckCert.Subject.CommonName, "SGX PCK Certificate") {
		return "", status.NewVerdictError(status.InvalidPCKCert, "PCK certificate subject CN does not contain \"SGX PCK Certificate\"")
	}

	// Step 2: PCK CRL issuer CN.
	if !strings.Contains(pckCRL.Issuer.CommonName, "CA") {
		return "", status.NewVerdictError(status.InvalidPCKCRL, "PCK CRL issuer CN does not contain \"CA\"")
	}

	// Step 3: PCK CRL issuer must match the PCK certificate's issuer.
	if !bytes.Equal(pckCRL.RawIssuer, pckCert.RawIssuer) {
		return "", status.NewVerdictError(status.InvalidPCKCRL, "PCK CRL issuer does not match PCK certificate issuer")
	}

	// Step 4: PCK certificate must not be revoked.
	for _, revoked := range pckCRL.RevokedCertificateEntries {
		if revoked.SerialNumber.Cmp(pckCert.SerialNumber) == 0 {
			return "", status.NewVerdictError(status.PCKRevoked, "PCK certificate is revoked")
		}
	}

	// Step 5: TEE-type coherence between the quote and the TcbInfo document.
	if tcbInfo.Version >= collateral.TCBInfoMinVersionForTDX {
		switch {
		case tcbInfo.ID == collateral.TCBInfoTDXID && q.Header.TEEType != quote.TEETypeTDX:
			return "", status.NewVerdictError(status.TCBInfoMismatch, "TcbInfo id is TDX but the quote's TEE type is not TDX")
		case tcbInfo.ID == collateral.TCBInfoSGXID && q.Header.TEEType != quote.TEETypeSGX:
			return "", status.NewVerdictError(status.TCBInfoMismatch, "TcbInfo id is SGX but the quote's TEE type is not SGX")
		}
	} else if q.Header.TEEType == quote.TEETypeTDX {
		return "", status.NewVerdictError(status.TCBInfoMismatch, "a TcbInfo document older than version 3 must not be applied to a TDX quote")
	}

	// Step 6: PCK certificate FMSPC/PCEID must match the TcbInfo document.
	pckExt, err := pckext.Parse(pckCert)
	if err != nil {
		return "", status.NewVerdictError(status.InvalidPCKCert, fmt.Sprintf("parsing PCK certificate SGX extension: %v", err))
	}
	if pckExt.FMSPC != tcbInfo.FMSPC || pckExt.PCEID != tcbInfo.PCEID {
		return "", status.NewVerdictError(status.TCBInfoMismatch, "PCK certificate FMSPC/PCEID does not match the TcbInfo document")
	}

	// Step 7: certification data parsed size must match its declared size.
	if q.Signature.CertificationData.Size() != q.Signature.CertificationData.ParsedDataSize {
		return "", status.NewVerdictError(status.UnsupportedQuoteFormat, "quote certification data size does not match its declared size")
	}

	var teeTcbSvn [16]byte
	var mrSignerSeam [48]byte
	var seamAttributes [8]byte
	isTDXBody := false
	switch b := q.Body.(type) {
	case quote.TDReport10:
		teeTcbSvn, mrSignerSeam, seamAttributes, isTDXBody = b.TeeTCBSVN, b.MRSIGNERSEAM, b.SEAMAttributes, true
	case quote.TDReport15:
		teeTcbSvn, mrSignerSeam, seamAttributes, isTDXBody = b.TeeTCBSVN, b.MRSIGNERSEAM, b.SEAMAttributes, true
	}

	// Step 8: TDX module MRSIGNERSEAM/SEAMATTRIBUTES check.
	if isTDXBody && q.Header.TEEType == quote.TEETypeTDX && tcbInfo.Version >= collateral.TCBInfoMinVersionForTDX {
		var expectedMRSIGNERSEAM [48]byte
		var expectedAttributes [8]byte
		if q.Header.Version > 3 && teeTcbSvn[1] > 0 {
			moduleIdentity, ok := tcbInfo.FindTdxModuleIdentity(teeTcbSvn[1])
			if !ok {
				return "", status.NewVerdictError(status.TDXModuleMismatch, "no TDX module identity found for the asserted module version")
			}
			expectedMRSIGNERSEAM = moduleIdentity.MRSIGNER
			expectedAttributes = moduleIdentity.Attributes
		} else {
			expectedMRSIGNERSEAM = tcbInfo.TdxModule.MRSIGNER
			expectedAttributes = tcbInfo.TdxModule.Attributes
		}

		if mrSignerSeam != expectedMRSIGNERSEAM {
			return "", status.NewVerdictError(status.TDXModuleMismatch, "TD report MRSIGNERSEAM does not match the expected TDX module signer")
		}
		// Each SEAMATTRIBUTES byte must equal the expected module
		// attributes byte; the module's attributes mask is not applied.
		for i := 0; i < 8; i++ {
			if seamAttributes[i] != expectedAttributes[i] {
				return "", status.NewVerdictError(status.TDXModuleMismatch, "TD report SEAMATTRIBUTES does not match the expected TDX module attributes")
			}
		}
	}

	// Step 9: verify the QE report's own ECDSA signature using the PCK
	// certificate's public key.
	if err := crypto.VerifyQEReportSignature(pckCert, qeReport); err != nil {
		return "", status.NewVerdictError(status.InvalidQEReportSignature, err.Error())
	}

	// Step 10: the QE report's reportData must bind the attestation key
	// and QE auth data.
	boundData := append(append([]byte{}, q.Signature.AttestationPublicKey[:]...), qeReport.QEAuthData.Data...)
	digest := sha256.Sum256(boundData)
	if !bytes.Equal(digest[:], qeReport.EnclaveReport.ReportData[:32]) {
		return "", status.NewVerdictError(status.InvalidQEReportData, "QE report data does not bind the attestation key and QE auth data")
	}

	// Step 11: enclave identity check, if an identity document was supplied.
	qeOutcome := status.QENone
	if qeIdentity != nil {
		expectedID := collateral.EnclaveIdentityQEID
		if q.Header.TEEType == quote.TEETypeTDX {
			expectedID = collateral.EnclaveIdentityTDQEID
		}
		if q.Header.TEEType == quote.TEETypeTDX && qeIdentity.Version < collateral.EnclaveIdentityMinVersion {
			return "", status.NewVerdictError(status.QEIdentityMismatch, "enclave identity document version is too old for a TDX quote")
		}
		if !strings.EqualFold(qeIdentity.ID, expectedID) {
			return "", status.NewVerdictError(status.QEIdentityMismatch, fmt.Sprintf("enclave identity id %q does not match expected %q", qeIdentity.ID, expectedID))
		}

		outcome, err := enclaveidentity.Check(qeReport.EnclaveReport, *qeIdentity)
		if err != nil {
			return "", err
		}
		qeOutcome = outcome
	}

	// Step 12: verify the quote's own signature over its signed region.
	if err := crypto.VerifyQuoteSignature(q.Signature, q.SignedRegion()); err != nil {
		return "", status.NewVerdictError(status.InvalidQuoteSignature, err.Error())
	}

	// Step 13: final status computation.
	var teeTcbSvnPtr *[16]byte
	if isTDXBody {
		teeTcbSvnPtr = &teeTcbSvn
	}
	sgxLevel, tdxLevel, err := tcb.Match(pckExt.TCB, tcbInfo.TCBLevels, teeTcbSvnPtr)
	if err != nil {
		return "", err
	}

	sgxVerdict, ok := status.FromTCBStatus(sgxLevel.Status)
	if !ok {
		sgxVerdict = status.TCBUnrecognizedStatus
	}

	final := sgxVerdict
	if isTDXBody {
		var moduleStatus status.TCBStatus
		if tdxLevel == nil {
			final = status.TCBNotSupported
		} else {
			moduleStatus, _, err = tdxmodule.Check(teeTcbSvn, q.Header.Version, tcbInfo)
			if err != nil {
				return "", err
			}
			final = converge.TCB(tdxLevel.Status, moduleStatus)
		}

		if td15, ok := q.Body.(quote.TDReport15); ok && tdxLevel != nil {
			final, err = relaunch.Advise(td15.TeeTCBSVN2, tcbInfo, sgxVerdict, final, moduleStatus, qeOutcome)
			if err != nil {
				return "", err
			}
		}
	}

	if qeOutcome != status.QENone {
		final = converge.QE(final, qeOutcome)
	}

	return final, nil
}
