// Package quote implements the versioned quote structure model: a header
// common to every version, a discriminated body (EnclaveReport for SGX and
// legacy TDX, TDReport10 for TDX v4/v5, TDReport15 for TDX v1.5 extended
// reports), and the authentication data trailer (attestation signature,
// attestation public key, and nested QE report certification data).
//
// Parsing is purely byte-exact: this package does not interpret any field
// for policy purposes, it only establishes that the declared structure
// sizes match the bytes present.
package quote

import (
	"encoding/binary"
	"fmt"
)

// TEE type values carried in Header.TEEType.
const (
	TEETypeSGX uint32 = 0x00000000
	TEETypeTDX uint32 = 0x00000081
)

// CertificationData type values. Only types 5 (PCK certificate chain) and
// 6 (QE report certification data) are self-contained — resolvable without
// a further network round-trip — and are therefore the only types this
// core accepts; see QEReportCertificationData and AuthData.
const (
	CertDataPPIDCleartext        uint16 = 1
	CertDataPPIDRSA2048Encrypted uint16 = 2
	CertDataPPIDRSA3072Encrypted uint16 = 3
	CertDataPCKCertLeaf          uint16 = 4
	CertDataPCKCertChain         uint16 = 5
	CertDataQEReportCertData     uint16 = 6
	CertDataPlatformManifest     uint16 = 7
)

// Body-type values used by the v5 quote layout to select which body
// variant follows the type/size wrapper.
const (
	BodyTypeEnclaveReport uint16 = 1
	BodyTypeTDReport10    uint16 = 2
	BodyTypeTDReport15    uint16 = 3
)

const headerSize = 44

// FormatError reports a recoverable quote-structure parsing problem: a
// declared size that does not match the bytes present, an unsupported
// version/body-type combination, or a certification-data type this core
// does not accept. The orchestrator (package verify) translates a
// FormatError into UNSUPPORTED_QUOTE_FORMAT.
type FormatError struct{ msg string }

func (e *FormatError) Error() string { return e.msg }

func formatErrorf(format string, args ...any) *FormatError {
	return &FormatError{msg: fmt.Sprintf(format, args...)}
}

// Header is the portion of a quote common to every version: version,
// attestation-key type, TEE type, QE vendor id, and user data.
type Header struct {
	Version            uint16
	AttestationKeyType uint16
	TEEType            uint32
	QEVendorID         [16]byte
	UserData           [20]byte
}

// Marshal serializes a Header to its 44-byte binary form.
func (h Header) Marshal() []byte {
	out := make([]byte, headerSize)
	binary.LittleEndian.PutUint16(out[0:2], h.Version)
	binary.LittleEndian.PutUint16(out[2:4], h.AttestationKeyType)
	binary.LittleEndian.PutUint32(out[4:8], h.TEEType)
	copy(out[8:24], h.QEVendorID[:])
	copy(out[24:44], h.UserData[:])
	return out
}

func parseHeader(raw []byte) (Header, error) {
	if len(raw) < headerSize {
		return Header{}, formatErrorf("quote header is too short (received %d bytes, need %d)", len(raw), headerSize)
	}
	return Header{
		Version:            binary.LittleEndian.Uint16(raw[0:2]),
		AttestationKeyType: binary.LittleEndian.Uint16(raw[2:4]),
		TEEType:            binary.LittleEndian.Uint32(raw[4:8]),
		QEVendorID:         [16]byte(raw[8:24]),
		UserData:           [20]byte(raw[24:44]),
	}, nil
}

// BodyKind discriminates the concrete type held by a Body value.
type BodyKind int

const (
	KindEnclaveReport BodyKind = iota + 1
	KindTDReport10
	KindTDReport15
)

// Body is the discriminated quote-body union: EnclaveReport, TDReport10,
// or TDReport15.
type Body interface {
	Kind() BodyKind
	Marshal() []byte
}

const enclaveReportSize = 384

// EnclaveReport is the SGX report body used by SGX quotes and by legacy
// (v3) TDX quotes, and nested inside QEReportCertificationData for every
// quote version.
type EnclaveReport struct {
	CPUSVN     [16]byte
	MiscSelect uint32
	Reserved1  [28]byte
	Attributes [16]byte
	MRENCLAVE  [32]byte
	Reserved2  [32]byte
	MRSIGNER   [32]byte
	Reserved3  [96]byte
	ISVProdID  uint16
	ISVSVN     uint16
	Reserved4  [60]byte
	ReportData [64]byte
}

// Kind implements Body.
func (EnclaveReport) Kind() BodyKind { return KindEnclaveReport }

// Marshal serializes an EnclaveReport to its 384-byte binary form, exactly
// as it appears inside a quote or a QE report.
func (er EnclaveReport) Marshal() []byte {
	out := make([]byte, enclaveReportSize)
	copy(out[0:16], er.CPUSVN[:])
	binary.LittleEndian.PutUint32(out[16:20], er.MiscSelect)
	copy(out[20:48], er.Reserved1[:])
	copy(out[48:64], er.Attributes[:])
	copy(out[64:96], er.MRENCLAVE[:])
	copy(out[96:128], er.Reserved2[:])
	copy(out[128:160], er.MRSIGNER[:])
	copy(out[160:256], er.Reserved3[:])
	binary.LittleEndian.PutUint16(out[256:258], er.ISVProdID)
	binary.LittleEndian.PutUint16(out[258:260], er.ISVSVN)
	copy(out[260:320], er.Reserved4[:])
	copy(out[320:384], er.ReportData[:])
	return out
}

func parseEnclaveReport(raw []byte) (EnclaveReport, error) {
	if len(raw) != enclaveReportSize {
		return EnclaveReport{}, formatErrorf("EnclaveReport has unexpected size (expected %d bytes, got %d)", enclaveReportSize, len(raw))
	}
	return EnclaveReport{
		CPUSVN:     [16]byte(raw[0:16]),
		MiscSelect: binary.LittleEndian.Uint32(raw[16:20]),
		Reserved1:  [28]byte(raw[20:48]),
		Attributes: [16]byte(raw[48:64]),
		MRENCLAVE:  [32]byte(raw[64:96]),
		Reserved2:  [32]byte(raw[96:128]),
		MRSIGNER:   [32]byte(raw[128:160]),
		Reserved3:  [96]byte(raw[160:256]),
		ISVProdID:  binary.LittleEndian.Uint16(raw[256:258]),
		ISVSVN:     binary.LittleEndian.Uint16(raw[258:260]),
		Reserved4:  [60]byte(raw[260:320]),
		ReportData: [64]byte(raw[320:384]),
	}, nil
}

const tdReport10Size = 584

// TDReport10 is the TD report body used by TDX v4 quotes and by v5
// quotes with body-type TDReport10.
type TDReport10 struct {
	TeeTCBSVN      [16]byte
	MRSEAM         [48]byte
	MRSIGNERSEAM   [48]byte
	SEAMAttributes [8]byte
	TDAttributes   [8]byte
	XFAM           [8]byte
	MRTD           [48]byte
	MRConfigID     [48]byte
	MROwner        [48]byte
	MROwnerConfig  [48]byte
	RTMR           [4][48]byte
	ReportData     [64]byte
}

// Kind implements Body.
func (TDReport10) Kind() BodyKind { return KindTDReport10 }

// Marshal serializes a TDReport10 to its 584-byte binary form.
func (r TDReport10) Marshal() []byte {
	out := make([]byte, tdReport10Size)
	copy(out[0:16], r.TeeTCBSVN[:])
	copy(out[16:64], r.MRSEAM[:])
	copy(out[64:112], r.MRSIGNERSEAM[:])
	copy(out[112:120], r.SEAMAttributes[:])
	copy(out[120:128], r.TDAttributes[:])
	copy(out[128:136], r.XFAM[:])
	copy(out[136:184], r.MRTD[:])
	copy(out[184:232], r.MRConfigID[:])
	copy(out[232:280], r.MROwner[:])
	copy(out[280:328], r.MROwnerConfig[:])
	copy(out[328:376], r.RTMR[0][:])
	copy(out[376:424], r.RTMR[1][:])
	copy(out[424:472], r.RTMR[2][:])
	copy(out[472:520], r.RTMR[3][:])
	copy(out[520:584], r.ReportData[:])
	return out
}

func parseTDReport10(raw []byte) (TDReport10, error) {
	if len(raw) != tdReport10Size {
		return TDReport10{}, formatErrorf("TDReport10 has unexpected size (expected %d bytes, got %d)", tdReport10Size, len(raw))
	}
	return TDReport10{
		TeeTCBSVN:      [16]byte(raw[0:16]),
		MRSEAM:         [48]byte(raw[16:64]),
		MRSIGNERSEAM:   [48]byte(raw[64:112]),
		SEAMAttributes: [8]byte(raw[112:120]),
		TDAttributes:   [8]byte(raw[120:128]),
		XFAM:           [8]byte(raw[128:136]),
		MRTD:           [48]byte(raw[136:184]),
		MRConfigID:     [48]byte(raw[184:232]),
		MROwner:        [48]byte(raw[232:280]),
		MROwnerConfig:  [48]byte(raw[280:328]),
		RTMR: [4][48]byte{
			[48]byte(raw[328:376]),
			[48]byte(raw[376:424]),
			[48]byte(raw[424:472]),
			[48]byte(raw[472:520]),
		},
		ReportData: [64]byte(raw[520:584]),
	}, nil
}

const tdReport15Size = tdReport10Size + 16 + 48

// TDReport15 is the extended TD report body used by TDX v1.5 (v5 quotes
// with body-type TDReport15): a TDReport10 followed by a second TEE TCB
// SVN (the post-relaunch SVN the TD relaunch advisor evaluates) and the
// service-TD measurement register.
type TDReport15 struct {
	TDReport10
	TeeTCBSVN2  [16]byte
	MRServiceTD [48]byte
}

// Kind implements Body.
func (TDReport15) Kind() BodyKind { return KindTDReport15 }

// Marshal serializes a TDReport15 to its 648-byte binary form.
func (r TDReport15) Marshal() []byte {
	out := make([]byte, tdReport15Size)
	copy(out[0:tdReport10Size], r.TDReport10.Marshal())
	copy(out[tdReport10Size:tdReport10Size+16], r.TeeTCBSVN2[:])
	copy(out[tdReport10Size+16:], r.MRServiceTD[:])
	return out
}

func parseTDReport15(raw []byte) (TDReport15, error) {
	if len(raw) != tdReport15Size {
		return TDReport15{}, formatErrorf("TDReport15 has unexpected size (expected %d bytes, got %d)", tdReport15Size, len(raw))
	}
	base, err := parseTDReport10(raw[0:tdReport10Size])
	if err != nil {
		return TDReport15{}, err
	}
	return TDReport15{
		TDReport10:  base,
		TeeTCBSVN2:  [16]byte(raw[tdReport10Size : tdReport10Size+16]),
		MRServiceTD: [48]byte(raw[tdReport10Size+16 : tdReport15Size]),
	}, nil
}

// QEAuthData is the variable-length QE authentication data trailing a
// QEReportCertificationData's QE report signature.
type QEAuthData struct {
	ParsedDataSize uint16
	Data           []byte
}

// CertificationData is a generically typed, size-prefixed data blob. Its
// Data field holds either a QEReportCertificationData (Type ==
// CertDataQEReportCertData) or a raw PEM certificate chain (Type ==
// CertDataPCKCertChain); any other Type is rejected at parse time because
// it is not self-contained within the quote.
type CertificationData struct {
	Type           uint16
	ParsedDataSize uint32
	Data           any
}

// Size returns the wire size in bytes of this CertificationData's
// encoded Data payload.
func (c CertificationData) Size() uint32 {
	switch data := c.Data.(type) {
	case QEReportCertificationData:
		reportAndSigLen := enclaveReportSize + 64
		qeAuthLen := 2 + len(data.QEAuthData.Data)
		certData, ok := data.CertificationData.Data.([]byte)
		if !ok {
			return 0
		}
		certDataLen := len(certData) + 2 + 4
		return uint32(reportAndSigLen + qeAuthLen + certDataLen)
	case []byte:
		return uint32(len(data))
	default:
		return 0
	}
}

// QEReportCertificationData holds the Quoting Enclave's own report,
// signature, auth data, and nested PCK certificate chain, embedded as the
// top-level CertificationData of an AuthData.
type QEReportCertificationData struct {
	EnclaveReport     EnclaveReport
	Signature         [64]byte
	QEAuthData        QEAuthData
	CertificationData CertificationData
}

// AuthData is the authentication trailer of a quote: the ECDSA signature
// over the signed region (header ∥ body), the attestation public key used
// to verify it, and the certification data binding that key back to a PCK
// certificate via the QE report.
type AuthData struct {
	Signature            [64]byte
	AttestationPublicKey [64]byte
	CertificationData    CertificationData
}

// QEReport returns the decoded QEReportCertificationData nested inside
// a.CertificationData. ParseQuote guarantees this is always possible for
// a successfully parsed quote.
func (a AuthData) QEReport() (QEReportCertificationData, error) {
	qe, ok := a.CertificationData.Data.(QEReportCertificationData)
	if !ok {
		return QEReportCertificationData{}, formatErrorf("AuthData.CertificationData does not hold QEReportCertificationData")
	}
	return qe, nil
}

// PCKCertChainPEM returns the raw PEM certificate chain nested inside the
// QE report's certification data.
func (q QEReportCertificationData) PCKCertChainPEM() ([]byte, error) {
	pemBytes, ok := q.CertificationData.Data.([]byte)
	if !ok {
		return nil, formatErrorf("QEReportCertificationData.CertificationData does not hold a PEM certificate chain")
	}
	return pemBytes, nil
}

func parseAuthData(raw []byte) (AuthData, error) {
	if len(raw) < 134 {
		return AuthData{}, formatErrorf("authentication data is too short to be parsed (received %d bytes)", len(raw))
	}

	auth := AuthData{
		Signature:            [64]byte(raw[0:64]),
		AttestationPublicKey: [64]byte(raw[64:128]),
		CertificationData: CertificationData{
			Type:           binary.LittleEndian.Uint16(raw[128:130]),
			ParsedDataSize: binary.LittleEndian.Uint32(raw[130:134]),
		},
	}

	if auth.CertificationData.Type != CertDataQEReportCertData {
		return AuthData{}, formatErrorf("authentication data CertificationData.Type is not self-contained (expected %d, got %d)", CertDataQEReportCertData, auth.CertificationData.Type)
	}

	end := uint64(134) + uint64(auth.CertificationData.ParsedDataSize)
	if end > uint64(len(raw)) {
		return AuthData{}, formatErrorf("authentication data CertificationData.ParsedDataSize is incorrect or data is truncated (need %d bytes, have %d)", auth.CertificationData.ParsedDataSize, uint64(len(raw))-134)
	}

	qeReportCertData, err := parseQEReportCertificationData(raw[134:end])
	if err != nil {
		return AuthData{}, err
	}
	auth.CertificationData.Data = qeReportCertData

	return auth, nil
}

func parseQEReportCertificationData(raw []byte) (QEReportCertificationData, error) {
	if len(raw) < enclaveReportSize+64+2 {
		return QEReportCertificationData{}, formatErrorf("QE report certification data is too short to be parsed (received %d bytes)", len(raw))
	}

	enclaveReport, err := parseEnclaveReport(raw[0:enclaveReportSize])
	if err != nil {
		return QEReportCertificationData{}, err
	}

	sigOffset := enclaveReportSize
	authSizeOffset := sigOffset + 64
	qe := QEReportCertificationData{
		EnclaveReport: enclaveReport,
		Signature:     [64]byte(raw[sigOffset : sigOffset+64]),
		QEAuthData: QEAuthData{
			ParsedDataSize: binary.LittleEndian.Uint16(raw[authSizeOffset : authSizeOffset+2]),
		},
	}

	authDataOffset := authSizeOffset + 2
	endAuthData := uint64(authDataOffset) + uint64(qe.QEAuthData.ParsedDataSize)
	if endAuthData > uint64(len(raw)) {
		return QEReportCertificationData{}, formatErrorf("QEAuthData.ParsedDataSize is incorrect or data is truncated (need %d bytes, have %d)", qe.QEAuthData.ParsedDataSize, uint64(len(raw))-uint64(authDataOffset))
	}
	qe.QEAuthData.Data = raw[authDataOffset:endAuthData]

	innerCertData, err := parseQEReportInnerCertificationData(raw[endAuthData:])
	if err != nil {
		return QEReportCertificationData{}, err
	}
	qe.CertificationData = innerCertData

	return qe, nil
}

func parseQEReportInnerCertificationData(raw []byte) (CertificationData, error) {
	if len(raw) < 6 {
		return CertificationData{}, formatErrorf("inner certification data is too short to be parsed (received %d bytes)", len(raw))
	}

	cd := CertificationData{
		Type:           binary.LittleEndian.Uint16(raw[0:2]),
		ParsedDataSize: binary.LittleEndian.Uint32(raw[2:6]),
	}

	if cd.Type != CertDataPCKCertChain {
		return CertificationData{}, formatErrorf("inner certification data Type is not self-contained (expected %d, got %d)", CertDataPCKCertChain, cd.Type)
	}

	end := uint64(6) + uint64(cd.ParsedDataSize)
	if end > uint64(len(raw)) {
		return CertificationData{}, formatErrorf("inner certification data ParsedDataSize is incorrect or data is truncated (need %d bytes, have %d)", cd.ParsedDataSize, uint64(len(raw))-6)
	}

	cd.Data = raw[6:end]
	return cd, nil
}

const (
	minQuoteSize = 44 + enclaveReportSize + 4 + 134
	maxQuoteSize = 1 << 20 // 1 MiB
)

// Quote is a fully parsed attestation quote: its common header, the
// version-selected body variant, and the authentication trailer.
type Quote struct {
	Header    Header
	Body      Body
	Signature AuthData
}

// ParseQuote parses raw into a Quote. The version/TEE-type combination
// found in the header selects which body variant is parsed; for version 5
// this additionally consults an explicit body-type tag.
func ParseQuote(raw []byte) (Quote, error) {
	if len(raw) < minQuoteSize {
		return Quote{}, formatErrorf("quote is too short to be parsed (received %d bytes)", len(raw))
	}
	if len(raw) > maxQuoteSize {
		return Quote{}, formatErrorf("quote is too large (over 1 MiB, received %d bytes)", len(raw))
	}

	header, err := parseHeader(raw)
	if err != nil {
		return Quote{}, err
	}

	var body Body
	offset := headerSize

	switch header.Version {
	case 3:
		er, err := parseEnclaveReport(raw[offset : offset+enclaveReportSize])
		if err != nil {
			return Quote{}, fmt.Errorf("parsing v3 body: %w", err)
		}
		body = er
		offset += enclaveReportSize

	case 4:
		if header.TEEType != TEETypeTDX {
			return Quote{}, formatErrorf("quote version 4 requires TEE type TDX (0x%x), got 0x%x", TEETypeTDX, header.TEEType)
		}
		if len(raw) < offset+tdReport10Size {
			return Quote{}, formatErrorf("v4 quote is too short to carry a TDReport10 body (received %d bytes)", len(raw))
		}
		r, err := parseTDReport10(raw[offset : offset+tdReport10Size])
		if err != nil {
			return Quote{}, fmt.Errorf("parsing v4 body: %w", err)
		}
		body = r
		offset += tdReport10Size

	case 5:
		if len(raw) < offset+6 {
			return Quote{}, formatErrorf("v5 quote is too short to carry a body-type wrapper")
		}
		bodyType := binary.LittleEndian.Uint16(raw[offset : offset+2])
		bodySize := binary.LittleEndian.Uint32(raw[offset+2 : offset+6])
		offset += 6

		if uint64(offset)+uint64(bodySize) > uint64(len(raw)) {
			return Quote{}, formatErrorf("v5 body size is incorrect or data is truncated (need %d bytes)", bodySize)
		}
		bodyBytes := raw[offset : offset+int(bodySize)]

		switch bodyType {
		case BodyTypeEnclaveReport:
			er, err := parseEnclaveReport(bodyBytes)
			if err != nil {
				return Quote{}, fmt.Errorf("parsing v5 EnclaveReport body: %w", err)
			}
			body = er
		case BodyTypeTDReport10:
			r, err := parseTDReport10(bodyBytes)
			if err != nil {
				return Quote{}, fmt.Errorf("parsing v5 TDReport10 body: %w", err)
			}
			body = r
		case BodyTypeTDReport15:
			r, err := parseTDReport15(bodyBytes)
			if err != nil {
				return Quote{}, fmt.Errorf("parsing v5 TDReport15 body: %w", err)
			}
			body = r
		default:
			return Quote{}, formatErrorf("v5 quote has unsupported body-type %d", bodyType)
		}
		offset += int(bodySize)

	default:
		return Quote{}, formatErrorf("quote version %d is not supported (supported: 3, 4, 5)", header.Version)
	}

	if len(raw) < offset+4 {
		return Quote{}, formatErrorf("quote is too short to carry a signature length field")
	}
	signatureLength := binary.LittleEndian.Uint32(raw[offset : offset+4])
	offset += 4

	end := uint64(offset) + uint64(signatureLength)
	if end > uint64(len(raw)) {
		return Quote{}, formatErrorf("quote SignatureLength is incorrect or data is truncated (need %d bytes, have %d)", signatureLength, uint64(len(raw))-uint64(offset))
	}

	signature, err := parseAuthData(raw[offset:end])
	if err != nil {
		return Quote{}, fmt.Errorf("parsing quote signature: %w", err)
	}

	return Quote{
		Header:    header,
		Body:      body,
		Signature: signature,
	}, nil
}

// SignedRegion returns the exact bytes the quote's ECDSA signature covers:
// the header followed by the typed body, reassembled from their Marshal
// forms rather than from a raw offset, so it stays correct across body
// variants.
func (q Quote) SignedRegion() []byte {
	return append(q.Header.Marshal(), q.Body.Marshal()...)
}
