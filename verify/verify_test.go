package verify

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/binary"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	fuzzheaders "github.com/AdaLogics/go-fuzz-headers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tdxverify/dcap/collateral"
	"github.com/tdxverify/dcap/quote"
	"github.com/tdxverify/dcap/status"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// --- ASN.1 mirror of pckext's private SGX-extension shape -----------------
//
// pckext.asn1SGXExtensions is unexported, so these tests build an
// identically shaped value and marshal it with the standard encoding/asn1
// rules (the package's "tag:SEQUENCE"/"tag:OBJECT_IDENTIFIER" struct tags
// are not valid asn1 tag directives and are ignored by the encoder/decoder
// alike, so the wire shape is simply "default encoding of this struct's Go
// types") — the resulting bytes are exactly what pckext.Parse expects.

type sgxExtOctetString struct {
	Oid   asn1.ObjectIdentifier
	Value []byte
}

type sgxExtInteger struct {
	Oid   asn1.ObjectIdentifier
	Value int
}

type sgxExtTCBInfo struct {
	Comp01SVN sgxExtInteger
	Comp02SVN sgxExtInteger
	Comp03SVN sgxExtInteger
	Comp04SVN sgxExtInteger
	Comp05SVN sgxExtInteger
	Comp06SVN sgxExtInteger
	Comp07SVN sgxExtInteger
	Comp08SVN sgxExtInteger
	Comp09SVN sgxExtInteger
	Comp10SVN sgxExtInteger
	Comp11SVN sgxExtInteger
	Comp12SVN sgxExtInteger
	Comp13SVN sgxExtInteger
	Comp14SVN sgxExtInteger
	Comp15SVN sgxExtInteger
	Comp16SVN sgxExtInteger
	PCESVN    sgxExtInteger
	CPUSVN    sgxExtOctetString
}

type sgxExtTCB struct {
	TCBOid  asn1.ObjectIdentifier
	TCBInfo sgxExtTCBInfo
}

type sgxExtensions struct {
	PPID  sgxExtOctetString
	TCB   sgxExtTCB
	PCEID sgxExtOctetString
	FMSPC sgxExtOctetString
}

var sgxCertExtensionOID = asn1.ObjectIdentifier{1, 2, 840, 113741, 1, 13, 1}

func buildSGXExtensionDER(t *testing.T, cpuSVN [16]byte, pceSVN uint16, fmspc [6]byte, pceid [2]byte) []byte {
	t.Helper()
	ext := sgxExtensions{
		PPID: sgxExtOctetString{Oid: asn1.ObjectIdentifier{1, 2, 840, 113741, 1, 13, 1, 1}, Value: make([]byte, 16)},
		TCB: sgxExtTCB{
			TCBOid: asn1.ObjectIdentifier{1, 2, 840, 113741, 1, 13, 1, 2},
			TCBInfo: sgxExtTCBInfo{
				Comp01SVN: sgxExtInteger{Oid: asn1.ObjectIdentifier{1, 2, 840, 113741, 1, 13, 1, 2, 1}},
				Comp02SVN: sgxExtInteger{Oid: asn1.ObjectIdentifier{1, 2, 840, 113741, 1, 13, 1, 2, 2}},
				Comp03SVN: sgxExtInteger{Oid: asn1.ObjectIdentifier{1, 2, 840, 113741, 1, 13, 1, 2, 3}},
				Comp04SVN: sgxExtInteger{Oid: asn1.ObjectIdentifier{1, 2, 840, 113741, 1, 13, 1, 2, 4}},
				Comp05SVN: sgxExtInteger{Oid: asn1.ObjectIdentifier{1, 2, 840, 113741, 1, 13, 1, 2, 5}},
				Comp06SVN: sgxExtInteger{Oid: asn1.ObjectIdentifier{1, 2, 840, 113741, 1, 13, 1, 2, 6}},
				Comp07SVN: sgxExtInteger{Oid: asn1.ObjectIdentifier{1, 2, 840, 113741, 1, 13, 1, 2, 7}},
				Comp08SVN: sgxExtInteger{Oid: asn1.ObjectIdentifier{1, 2, 840, 113741, 1, 13, 1, 2, 8}},
				Comp09SVN: sgxExtInteger{Oid: asn1.ObjectIdentifier{1, 2, 840, 113741, 1, 13, 1, 2, 9}},
				Comp10SVN: sgxExtInteger{Oid: asn1.ObjectIdentifier{1, 2, 840, 113741, 1, 13, 1, 2, 10}},
				Comp11SVN: sgxExtInteger{Oid: asn1.ObjectIdentifier{1, 2, 840, 113741, 1, 13, 1, 2, 11}},
				Comp12SVN: sgxExtInteger{Oid: asn1.ObjectIdentifier{1, 2, 840, 113741, 1, 13, 1, 2, 12}},
				Comp13SVN: sgxExtInteger{Oid: asn1.ObjectIdentifier{1, 2, 840, 113741, 1, 13, 1, 2, 13}},
				Comp14SVN: sgxExtInteger{Oid: asn1.ObjectIdentifier{1, 2, 840, 113741, 1, 13, 1, 2, 14}},
				Comp15SVN: sgxExtInteger{Oid: asn1.ObjectIdentifier{1, 2, 840, 113741, 1, 13, 1, 2, 15}},
				Comp16SVN: sgxExtInteger{Oid: asn1.ObjectIdentifier{1, 2, 840, 113741, 1, 13, 1, 2, 16}},
				PCESVN:    sgxExtInteger{Oid: asn1.ObjectIdentifier{1, 2, 840, 113741, 1, 13, 1, 2, 17}, Value: int(pceSVN)},
				CPUSVN:    sgxExtOctetString{Oid: asn1.ObjectIdentifier{1, 2, 840, 113741, 1, 13, 1, 2, 18}, Value: cpuSVN[:]},
			},
		},
		PCEID: sgxExtOctetString{Oid: asn1.ObjectIdentifier{1, 2, 840, 113741, 1, 13, 1, 3}, Value: pceid[:]},
		FMSPC: sgxExtOctetString{Oid: asn1.ObjectIdentifier{1, 2, 840, 113741, 1, 13, 1, 4}, Value: fmspc[:]},
	}
	der, err := asn1.Marshal(ext)
	require.NoError(t, err)
	return der
}

// --- certificate / CRL fixtures --------------------------------------------

type certMaterial struct {
	rootKey  *ecdsa.PrivateKey
	rootCrt  *x509.Certificate
	intKey   *ecdsa.PrivateKey
	intCrt   *x509.Certificate
	pckKey   *ecdsa.PrivateKey
	pckCrt   *x509.Certificate
	chainPEM []byte
}

func mustGenerateKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return key
}

func encodePEMCert(der []byte) []byte {
	var buf bytes.Buffer
	_ = pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: der})
	return buf.Bytes()
}

// buildCertMaterial builds a 3-certificate root→intermediate→PCK-leaf chain
// with the leaf carrying an SGX extension for the given TCB/FMSPC/PCEID.
func buildCertMaterial(t *testing.T, cpuSVN [16]byte, pceSVN uint16, fmspc [6]byte, pceid [2]byte) *certMaterial {
	t.Helper()
	return buildCertMaterialWithCN(t, cpuSVN, pceSVN, fmspc, pceid, "Intel SGX PCK Certificate")
}

func buildCertMaterialWithCN(t *testing.T, cpuSVN [16]byte, pceSVN uint16, fmspc [6]byte, pceid [2]byte, pckCN string) *certMaterial {
	t.Helper()

	rootKey := mustGenerateKey(t)
	rootTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test SGX Root CA"},
		NotBefore:             time.Unix(0, 0),
		NotAfter:              time.Unix(0, 0).Add(100 * 365 * 24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTmpl, rootTmpl, &rootKey.PublicKey, rootKey)
	require.NoError(t, err)
	rootCrt, err := x509.ParseCertificate(rootDER)
	require.NoError(t, err)

	intKey := mustGenerateKey(t)
	intTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(2),
		Subject:               pkix.Name{CommonName: "Test SGX PCK Platform CA"},
		NotBefore:             time.Unix(0, 0),
		NotAfter:              time.Unix(0, 0).Add(100 * 365 * 24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}
	intDER, err := x509.CreateCertificate(rand.Reader, intTmpl, rootCrt, &intKey.PublicKey, rootKey)
	require.NoError(t, err)
	intCrt, err := x509.ParseCertificate(intDER)
	require.NoError(t, err)

	extDER := buildSGXExtensionDER(t, cpuSVN, pceSVN, fmspc, pceid)
	pckKey := mustGenerateKey(t)
	pckTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(3),
		Subject:      pkix.Name{CommonName: pckCN},
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).Add(100 * 365 * 24 * time.Hour),
		ExtraExtensions: []pkix.Extension{
			{Id: sgxCertExtensionOID, Value: extDER},
		},
	}
	pckDER, err := x509.CreateCertificate(rand.Reader, pckTmpl, intCrt, &pckKey.PublicKey, intKey)
	require.NoError(t, err)
	pckCrt, err := x509.ParseCertificate(pckDER)
	require.NoError(t, err)

	chainPEM := append(append(encodePEMCert(pckDER), encodePEMCert(intDER)...), encodePEMCert(rootDER)...)

	return &certMaterial{
		rootKey: rootKey, rootCrt: rootCrt,
		intKey: intKey, intCrt: intCrt,
		pckKey: pckKey, pckCrt: pckCrt,
		chainPEM: chainPEM,
	}
}

func buildCRL(t *testing.T, cm *certMaterial, revoked []*big.Int) *x509.RevocationList {
	t.Helper()
	var entries []x509.RevocationListEntry
	for _, serial := range revoked {
		entries = append(entries, x509.RevocationListEntry{SerialNumber: serial, RevocationTime: time.Unix(0, 0)})
	}
	tmpl := &x509.RevocationList{
		Number:                    big.NewInt(1),
		ThisUpdate:                time.Unix(0, 0),
		NextUpdate:                time.Unix(0, 0).Add(24 * time.Hour),
		RevokedCertificateEntries: entries,
	}
	der, err := x509.CreateRevocationList(rand.Reader, tmpl, cm.intCrt, cm.intKey)
	require.NoError(t, err)
	crl, err := x509.ParseRevocationList(der)
	require.NoError(t, err)
	return crl
}

// --- quote assembly ---------------------------------------------------------

func rawECDSASign(t *testing.T, key *ecdsa.PrivateKey, data []byte) [64]byte {
	t.Helper()
	digest := sha256.Sum256(data)
	r, s, err := ecdsa.Sign(rand.Reader, key, digest[:])
	require.NoError(t, err)
	var out [64]byte
	r.FillBytes(out[0:32])
	s.FillBytes(out[32:64])
	return out
}

func rawPublicKey(key *ecdsa.PrivateKey) [64]byte {
	var out [64]byte
	key.PublicKey.X.FillBytes(out[0:32])
	key.PublicKey.Y.FillBytes(out[32:64])
	return out
}

func buildQEReportCertData(t *testing.T, er quote.EnclaveReport, sig [64]byte, qeAuthData, chainPEM []byte) []byte {
	t.Helper()
	buf := er.Marshal()
	buf = append(buf, sig[:]...)

	sz := make([]byte, 2)
	binary.LittleEndian.PutUint16(sz, uint16(len(qeAuthData)))
	buf = append(buf, sz...)
	buf = append(buf, qeAuthData...)

	innerType := make([]byte, 2)
	binary.LittleEndian.PutUint16(innerType, quote.CertDataPCKCertChain)
	innerSize := make([]byte, 4)
	binary.LittleEndian.PutUint32(innerSize, uint32(len(chainPEM)))
	buf = append(buf, innerType...)
	buf = append(buf, innerSize...)
	buf = append(buf, chainPEM...)
	return buf
}

func buildAuthData(t *testing.T, sig, pubKey [64]byte, qeReportCertData []byte) []byte {
	t.Helper()
	buf := append([]byte{}, sig[:]...)
	buf = append(buf, pubKey[:]...)

	certType := make([]byte, 2)
	binary.LittleEndian.PutUint16(certType, quote.CertDataQEReportCertData)
	certSize := make([]byte, 4)
	binary.LittleEndian.PutUint32(certSize, uint32(len(qeReportCertData)))
	buf = append(buf, certType...)
	buf = append(buf, certSize...)
	buf = append(buf, qeReportCertData...)
	return buf
}

func buildQuoteBytes(t *testing.T, header quote.Header, bodyWire []byte, authData []byte) []byte {
	t.Helper()
	buf := header.Marshal()
	buf = append(buf, bodyWire...)

	sigLen := make([]byte, 4)
	binary.LittleEndian.PutUint32(sigLen, uint32(len(authData)))
	buf = append(buf, sigLen...)
	buf = append(buf, authData...)
	return buf
}

func v5BodyWire(bodyType uint16, body quote.Body) []byte {
	wrapper := make([]byte, 6)
	bodyBytes := body.Marshal()
	binary.LittleEndian.PutUint16(wrapper[0:2], bodyType)
	binary.LittleEndian.PutUint32(wrapper[2:6], uint32(len(bodyBytes)))
	return append(wrapper, bodyBytes...)
}

// testQuote bundles everything needed to sign and assemble a full quote
// around a given body, using cm's PCK key to sign the QE report and a
// freshly generated attestation key to sign the quote itself.
type testQuote struct {
	cm         *certMaterial
	attKey     *ecdsa.PrivateKey
	qeAuth     []byte
	reportData [64]byte
}

func newTestQuote(t *testing.T, cm *certMaterial) *testQuote {
	t.Helper()
	attKey := mustGenerateKey(t)
	qeAuth := []byte{0xAA, 0xBB}
	bound := append(append([]byte{}, rawPublicKeySlice(attKey)...), qeAuth...)
	digest := sha256.Sum256(bound)
	var reportData [64]byte
	copy(reportData[:32], digest[:])
	return &testQuote{cm: cm, attKey: attKey, qeAuth: qeAuth, reportData: reportData}
}

func rawPublicKeySlice(key *ecdsa.PrivateKey) []byte {
	raw := rawPublicKey(key)
	return raw[:]
}

// sign assembles and signs a full quote around header/body and returns the
// raw bytes, ready for verify.Verify.
func (tq *testQuote) sign(t *testing.T, header quote.Header, body quote.Body, v5BodyType uint16) []byte {
	t.Helper()

	var er quote.EnclaveReport
	er.ReportData = tq.reportData
	er.ISVProdID = 1
	er.ISVSVN = 3

	qeSig := rawECDSASign(t, tq.cm.pckKey, er.Marshal())
	qeReportCertData := buildQEReportCertData(t, er, qeSig, tq.qeAuth, tq.cm.chainPEM)

	signedRegion := append(header.Marshal(), body.Marshal()...)
	quoteSig := rawECDSASign(t, tq.attKey, signedRegion)
	authData := buildAuthData(t, quoteSig, rawPublicKey(tq.attKey), qeReportCertData)

	var bodyWire []byte
	if header.Version == 5 {
		bodyWire = v5BodyWire(v5BodyType, body)
	} else {
		bodyWire = body.Marshal()
	}

	return buildQuoteBytes(t, header, bodyWire, authData)
}

// --- TCB/module fixtures -----------------------------------------------------

var (
	latestSvn   = repeatByte(0xF0)
	earliestSvn = repeatByte(0x00)
	latestPce   = uint16(10)
	earliestPce = uint16(5)
	testFMSPC   = [6]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	testPCEID   = [2]byte{0x00, 0x01}
)

func repeatByte(b byte) [16]byte {
	var v [16]byte
	for i := range v {
		v[i] = b
	}
	return v
}

func svnComponentsVector(v [16]byte) [16]collateral.TCBComponent {
	var out [16]collateral.TCBComponent
	for i := range out {
		out[i].SVN = v[i]
	}
	return out
}

func tcbLevel(sgx, tdx [16]byte, pceSvn uint16, s status.TCBStatus) collateral.TCBLevel {
	return collateral.TCBLevel{
		TCB: collateral.TCB{
			SGXTCBComponents: svnComponentsVector(sgx),
			TDXTCBComponents: svnComponentsVector(tdx),
			PCESVN:           pceSvn,
		},
		TCBDate: time.Unix(0, 0),
		Status:  s,
	}
}

func TestVerifyOKSimpleSGXQuote(t *testing.T) {
	cpuSvn := latestSvn
	cm := buildCertMaterial(t, cpuSvn, latestPce, testFMSPC, testPCEID)
	crl := buildCRL(t, cm, nil)
	tq := newTestQuote(t, cm)

	tcbInfo := collateral.TCBInfo{
		ID:      collateral.TCBInfoSGXID,
		Version: 1, // below TCBInfoMinVersionForTDX, SGX-only document
		FMSPC:   testFMSPC,
		PCEID:   testPCEID,
		TCBLevels: []collateral.TCBLevel{
			tcbLevel(cpuSvn, [16]byte{}, latestPce, status.UpToDate),
		},
	}

	var er quote.EnclaveReport
	er.ReportData = tq.reportData
	header := quote.Header{Version: 3, TEEType: quote.TEETypeSGX}
	raw := tq.sign(t, header, er, 0)

	v := Verify(raw, crl, tcbInfo, nil)
	require.Equal(t, status.OK, v)
}

func TestVerifyPCKRevoked(t *testing.T) {
	cpuSvn := latestSvn
	cm := buildCertMaterial(t, cpuSvn, latestPce, testFMSPC, testPCEID)
	crl := buildCRL(t, cm, []*big.Int{cm.pckCrt.SerialNumber})
	tq := newTestQuote(t, cm)

	tcbInfo := collateral.TCBInfo{
		ID: collateral.TCBInfoSGXID, Version: 1, FMSPC: testFMSPC, PCEID: testPCEID,
		TCBLevels: []collateral.TCBLevel{tcbLevel(cpuSvn, [16]byte{}, latestPce, status.UpToDate)},
	}

	var er quote.EnclaveReport
	er.ReportData = tq.reportData
	header := quote.Header{Version: 3, TEEType: quote.TEETypeSGX}
	raw := tq.sign(t, header, er, 0)

	v := Verify(raw, crl, tcbInfo, nil)
	require.Equal(t, status.PCKRevoked, v)
}

func TestVerifyInvalidPCKCertCommonName(t *testing.T) {
	badCM := buildCertMaterialWithCN(t, latestSvn, latestPce, testFMSPC, testPCEID, "Not A PCK Cert")
	crl := buildCRL(t, badCM, nil)
	tq := newTestQuote(t, badCM)

	tcbInfo := collateral.TCBInfo{ID: collateral.TCBInfoSGXID, Version: 1, FMSPC: testFMSPC, PCEID: testPCEID}

	var er quote.EnclaveReport
	er.ReportData = tq.reportData
	header := quote.Header{Version: 3, TEEType: quote.TEETypeSGX}
	raw := tq.sign(t, header, er, 0)

	v := Verify(raw, crl, tcbInfo, nil)
	require.Equal(t, status.InvalidPCKCert, v)
}

func TestVerifyTCBInfoMismatchFMSPC(t *testing.T) {
	cm := buildCertMaterial(t, latestSvn, latestPce, testFMSPC, testPCEID)
	crl := buildCRL(t, cm, nil)
	tq := newTestQuote(t, cm)

	tcbInfo := collateral.TCBInfo{
		ID: collateral.TCBInfoSGXID, Version: 1,
		FMSPC: [6]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, // does not match the cert
		PCEID: testPCEID,
	}

	var er quote.EnclaveReport
	er.ReportData = tq.reportData
	header := quote.Header{Version: 3, TEEType: quote.TEETypeSGX}
	raw := tq.sign(t, header, er, 0)

	v := Verify(raw, crl, tcbInfo, nil)
	require.Equal(t, status.TCBInfoMismatch, v)
}

func TestVerifyTCBInfoMismatchTEEType(t *testing.T) {
	cm := buildCertMaterial(t, latestSvn, latestPce, testFMSPC, testPCEID)
	crl := buildCRL(t, cm, nil)
	tq := newTestQuote(t, cm)

	tcbInfo := collateral.TCBInfo{
		ID: collateral.TCBInfoTDXID, Version: 3, FMSPC: testFMSPC, PCEID: testPCEID,
	}

	// Header claims SGX but TcbInfo id is TDX.
	var er quote.EnclaveReport
	er.ReportData = tq.reportData
	header := quote.Header{Version: 3, TEEType: quote.TEETypeSGX}
	raw := tq.sign(t, header, er, 0)

	v := Verify(raw, crl, tcbInfo, nil)
	require.Equal(t, status.TCBInfoMismatch, v)
}

func TestVerifyInvalidQEReportSignature(t *testing.T) {
	cm := buildCertMaterial(t, latestSvn, latestPce, testFMSPC, testPCEID)
	crl := buildCRL(t, cm, nil)
	tq := newTestQuote(t, cm)

	tcbInfo := collateral.TCBInfo{ID: collateral.TCBInfoSGXID, Version: 1, FMSPC: testFMSPC, PCEID: testPCEID}

	var er quote.EnclaveReport
	er.ReportData = tq.reportData
	header := quote.Header{Version: 3, TEEType: quote.TEETypeSGX}
	raw := tq.sign(t, header, er, 0)

	// Flip a byte inside the QE report's signature region of the raw quote.
	// The QE report signature follows header(44) + body(384) + sigLen(4) +
	// the AuthData prefix (signature 64, public key 64, type 2, size 4) +
	// the QE's EnclaveReport(384).
	qeSigOffset := 44 + 384 + 4 + 134 + 384
	raw[qeSigOffset] ^= 0xFF

	v := Verify(raw, crl, tcbInfo, nil)
	require.Equal(t, status.InvalidQEReportSignature, v)
}

func TestVerifyInvalidQuoteSignature(t *testing.T) {
	cm := buildCertMaterial(t, latestSvn, latestPce, testFMSPC, testPCEID)
	crl := buildCRL(t, cm, nil)
	tq := newTestQuote(t, cm)

	tcbInfo := collateral.TCBInfo{ID: collateral.TCBInfoSGXID, Version: 1, FMSPC: testFMSPC, PCEID: testPCEID}

	var er quote.EnclaveReport
	er.ReportData = tq.reportData
	header := quote.Header{Version: 3, TEEType: quote.TEETypeSGX}
	raw := tq.sign(t, header, er, 0)

	// The quote-level signature is the first 64 bytes of AuthData, which
	// immediately follows header(44) + body(384) + sigLen(4).
	sigOffset := 44 + 384 + 4
	raw[sigOffset] ^= 0xFF

	v := Verify(raw, crl, tcbInfo, nil)
	require.Equal(t, status.InvalidQuoteSignature, v)
}

func TestVerifyInvalidQEReportData(t *testing.T) {
	cm := buildCertMaterial(t, latestSvn, latestPce, testFMSPC, testPCEID)
	crl := buildCRL(t, cm, nil)
	tq := newTestQuote(t, cm)
	tq.reportData[0] ^= 0xFF // no longer binds the attestation key/QE auth data

	tcbInfo := collateral.TCBInfo{ID: collateral.TCBInfoSGXID, Version: 1, FMSPC: testFMSPC, PCEID: testPCEID}

	var er quote.EnclaveReport
	er.ReportData = tq.reportData
	header := quote.Header{Version: 3, TEEType: quote.TEETypeSGX}
	raw := tq.sign(t, header, er, 0)

	v := Verify(raw, crl, tcbInfo, nil)
	require.Equal(t, status.InvalidQEReportData, v)
}

func TestVerifyEnclaveIdentityMismatch(t *testing.T) {
	cm := buildCertMaterial(t, latestSvn, latestPce, testFMSPC, testPCEID)
	crl := buildCRL(t, cm, nil)
	tq := newTestQuote(t, cm)

	tcbInfo := collateral.TCBInfo{
		ID: collateral.TCBInfoSGXID, Version: 1, FMSPC: testFMSPC, PCEID: testPCEID,
		TCBLevels: []collateral.TCBLevel{tcbLevel(latestSvn, [16]byte{}, latestPce, status.UpToDate)},
	}
	qeIdentity := &collateral.EnclaveIdentity{
		ID:             collateral.EnclaveIdentityQEID,
		Version:        2,
		MiscSelectMask: 0xFFFFFFFF,
		ISVProdID:      99, // does not match the QE report's ISVProdID (1)
	}

	var er quote.EnclaveReport
	er.ReportData = tq.reportData
	er.ISVProdID = 1
	er.ISVSVN = 3
	header := quote.Header{Version: 3, TEEType: quote.TEETypeSGX}

	qeSig := rawECDSASign(t, cm.pckKey, er.Marshal())
	qeReportCertData := buildQEReportCertData(t, er, qeSig, tq.qeAuth, cm.chainPEM)
	signedRegion := append(header.Marshal(), er.Marshal()...)
	quoteSig := rawECDSASign(t, tq.attKey, signedRegion)
	authData := buildAuthData(t, quoteSig, rawPublicKey(tq.attKey), qeReportCertData)
	raw := buildQuoteBytes(t, header, er.Marshal(), authData)

	v := Verify(raw, crl, tcbInfo, qeIdentity)
	require.Equal(t, status.QEIdentityMismatch, v)
}

func TestVerifyTDXModuleMismatchUnknownVersion(t *testing.T) {
	cm := buildCertMaterial(t, latestSvn, latestPce, testFMSPC, testPCEID)
	crl := buildCRL(t, cm, nil)
	tq := newTestQuote(t, cm)

	tcbInfo := collateral.TCBInfo{ID: collateral.TCBInfoTDXID, Version: 3, FMSPC: testFMSPC, PCEID: testPCEID}

	var td quote.TDReport10
	td.ReportData = tq.reportData
	td.TeeTCBSVN[1] = 0x07 // no matching TdxModuleIdentity exists

	header := quote.Header{Version: 4, TEEType: quote.TEETypeTDX}
	raw := tq.sign(t, header, td, 0)

	v := Verify(raw, crl, tcbInfo, nil)
	require.Equal(t, status.TDXModuleMismatch, v)
}

// TestVerifyAllUpToDateYieldsOK covers a TcbInfo whose latest level and
// module are both UpToDate, a PCK cert and quote both at the latest SVN,
// and no enclave identity supplied.
func TestVerifyAllUpToDateYieldsOK(t *testing.T) {
	cm := buildCertMaterial(t, latestSvn, latestPce, testFMSPC, testPCEID)
	crl := buildCRL(t, cm, nil)
	tq := newTestQuote(t, cm)

	moduleID := "TDX_F0"
	tcbInfo := collateral.TCBInfo{
		ID: collateral.TCBInfoTDXID, Version: 3, FMSPC: testFMSPC, PCEID: testPCEID,
		TCBLevels: []collateral.TCBLevel{
			tcbLevel(latestSvn, latestSvn, latestPce, status.UpToDate),
			tcbLevel(earliestSvn, earliestSvn, earliestPce, status.OutOfDate),
		},
		TdxModuleIdentities: []collateral.TdxModuleIdentity{
			{ID: moduleID, TCBLevels: []collateral.TdxModuleTCBLevel{{ISVSVN: 0, Status: status.UpToDate}}},
		},
	}

	var td quote.TDReport10
	td.ReportData = tq.reportData
	td.TeeTCBSVN = latestSvn
	td.MRSIGNERSEAM = [48]byte{} // matches the resolved module identity's zero MRSIGNER

	header := quote.Header{Version: 4, TEEType: quote.TEETypeTDX}
	raw := tq.sign(t, header, td, 0)

	v := Verify(raw, crl, tcbInfo, nil)
	require.Equal(t, status.OK, v)
}

// TestVerifyRevokedQEWinsOverUpToDatePlatform is the all-up-to-date case
// with the QE ISVSVN revoked, which must win outright: TCB_REVOKED.
func TestVerifyRevokedQEWinsOverUpToDatePlatform(t *testing.T) {
	cm := buildCertMaterial(t, latestSvn, latestPce, testFMSPC, testPCEID)
	crl := buildCRL(t, cm, nil)
	tq := newTestQuote(t, cm)

	moduleID := "TDX_F0"
	tcbInfo := collateral.TCBInfo{
		ID: collateral.TCBInfoTDXID, Version: 3, FMSPC: testFMSPC, PCEID: testPCEID,
		TCBLevels: []collateral.TCBLevel{
			tcbLevel(latestSvn, latestSvn, latestPce, status.UpToDate),
			tcbLevel(earliestSvn, earliestSvn, earliestPce, status.OutOfDate),
		},
		TdxModuleIdentities: []collateral.TdxModuleIdentity{
			{ID: moduleID, TCBLevels: []collateral.TdxModuleTCBLevel{{ISVSVN: 0, Status: status.UpToDate}}},
		},
	}
	qeIdentity := &collateral.EnclaveIdentity{
		ID: collateral.EnclaveIdentityTDQEID, Version: 2, MiscSelectMask: 0xFFFFFFFF,
		ISVProdID: 1,
		TCBLevels: []collateral.EnclaveTCBLevel{
			{ISVSVN: 3, Status: status.Revoked},
		},
	}

	var td quote.TDReport10
	td.ReportData = tq.reportData
	td.TeeTCBSVN = latestSvn

	header := quote.Header{Version: 4, TEEType: quote.TEETypeTDX}
	raw := tq.sign(t, header, td, 0)

	v := Verify(raw, crl, tcbInfo, qeIdentity)
	require.Equal(t, status.TCBRevoked, v)
}

// TestVerifyRevokedTCBLevelWins covers the case where the only TCB level
// is Revoked, so the final status is TCB_REVOKED regardless of the
// (matching) QE outcome.
func TestVerifyRevokedTCBLevelWins(t *testing.T) {
	cm := buildCertMaterial(t, latestSvn, latestPce, testFMSPC, testPCEID)
	crl := buildCRL(t, cm, nil)
	tq := newTestQuote(t, cm)

	moduleID := "TDX_F0"
	tcbInfo := collateral.TCBInfo{
		ID: collateral.TCBInfoTDXID, Version: 3, FMSPC: testFMSPC, PCEID: testPCEID,
		TCBLevels: []collateral.TCBLevel{
			tcbLevel(latestSvn, latestSvn, latestPce, status.Revoked),
		},
		TdxModuleIdentities: []collateral.TdxModuleIdentity{
			{ID: moduleID, TCBLevels: []collateral.TdxModuleTCBLevel{{ISVSVN: 0, Status: status.UpToDate}}},
		},
	}
	qeIdentity := &collateral.EnclaveIdentity{
		ID: collateral.EnclaveIdentityTDQEID, Version: 2, MiscSelectMask: 0xFFFFFFFF,
		ISVProdID: 1,
		TCBLevels: []collateral.EnclaveTCBLevel{
			{ISVSVN: 0, Status: status.UpToDate},
		},
	}

	var td quote.TDReport10
	td.ReportData = tq.reportData
	td.TeeTCBSVN = latestSvn

	header := quote.Header{Version: 4, TEEType: quote.TEETypeTDX}
	raw := tq.sign(t, header, td, 0)

	v := Verify(raw, crl, tcbInfo, qeIdentity)
	require.Equal(t, status.TCBRevoked, v)
}

// TestVerifySWHardeningNeededPassesThrough covers the latest TCB level
// being SWHardeningNeeded with an up-to-date module and no enclave
// identity, yielding TCB_SW_HARDENING_NEEDED.
func TestVerifySWHardeningNeededPassesThrough(t *testing.T) {
	cm := buildCertMaterial(t, latestSvn, latestPce, testFMSPC, testPCEID)
	crl := buildCRL(t, cm, nil)
	tq := newTestQuote(t, cm)

	moduleID := "TDX_F0"
	tcbInfo := collateral.TCBInfo{
		ID: collateral.TCBInfoTDXID, Version: 3, FMSPC: testFMSPC, PCEID: testPCEID,
		TCBLevels: []collateral.TCBLevel{
			tcbLevel(latestSvn, latestSvn, latestPce, status.SWHardeningNeeded),
		},
		TdxModuleIdentities: []collateral.TdxModuleIdentity{
			{ID: moduleID, TCBLevels: []collateral.TdxModuleTCBLevel{{ISVSVN: 0, Status: status.UpToDate}}},
		},
	}

	var td quote.TDReport10
	td.ReportData = tq.reportData
	td.TeeTCBSVN = latestSvn

	header := quote.Header{Version: 4, TEEType: quote.TEETypeTDX}
	raw := tq.sign(t, header, td, 0)

	v := Verify(raw, crl, tcbInfo, nil)
	require.Equal(t, status.TCBSWHardeningNeeded, v)
}

// relaunchTeeTcbSvn is the TD's pre-relaunch TEE TCB SVN for the relaunch
// tests below: ISVSVN 3 under TDX module version 1, with its own TDX
// component (index 2) at the earliest SVN. The module version is nonzero
// so tcb.Match's TDX comparison skips indices 0 and 1 (those belong to
// the module identity, resolved separately), and tdxmodule.Check resolves
// a module identity explicitly, rather than short-circuiting to UpToDate.
var relaunchTeeTcbSvn = [16]byte{3, 1, 0}

// relaunchTeeTcbSvn2 is the TD's post-relaunch TEE TCB SVN: module version
// 0 (so Advise compares directly against the top TCB level's own TDX
// components, rather than resolving a module identity) with component 2
// already at the latest SVN.
var relaunchTeeTcbSvn2 = [16]byte{0, 0, 0xF0}

// relaunchTopTDXComponents and relaunchBottomTDXComponents are two TDX
// component vectors differing only in component 2, so a quote whose TEE
// TCB SVN has an earliest-SVN component 2 matches the bottom level (and
// is therefore TDX-out-of-date) while one with a latest-SVN component 2
// matches the top level. Keeping the SGX component vector at latestSvn
// for every level means the PCK certificate's CPU SVN (which reflects the
// current, SGX-clean platform) always satisfies the SGX half of the
// match, independently of which TDX level is selected.
var (
	relaunchTopTDXComponents    = [16]byte{0, 0, 0xF0}
	relaunchBottomTDXComponents = [16]byte{}
)

// relaunchModuleIdentities resolves TDX module version 1 (matching
// relaunchTeeTcbSvn's module version) to an out-of-date module, the
// other precondition (alongside a clean SGX verdict and an out-of-date
// TDX verdict) the relaunch advisor's gate requires.
func relaunchModuleIdentities() []collateral.TdxModuleIdentity {
	return []collateral.TdxModuleIdentity{
		{ID: "TDX_01", TCBLevels: []collateral.TdxModuleTCBLevel{{ISVSVN: 3, Status: status.OutOfDate}}},
	}
}

// TestVerifyRelaunchAdvisedWhenPostRelaunchSVNSatisfiesLatestLevel covers
// a platform whose SGX half of the TCB level match is clean (UpToDate)
// but whose TDX component lands on a lower, out-of-date level, with an
// out-of-date TDX module — opening the relaunch advisor's gate. The TD's
// post-relaunch SVN already satisfies the latest TCB level's TDX
// components, so the advisor fires: TCB_TD_RELAUNCH_ADVISED.
func TestVerifyRelaunchAdvisedWhenPostRelaunchSVNSatisfiesLatestLevel(t *testing.T) {
	cm := buildCertMaterial(t, latestSvn, latestPce, testFMSPC, testPCEID)
	crl := buildCRL(t, cm, nil)
	tq := newTestQuote(t, cm)

	tcbInfo := collateral.TCBInfo{
		ID: collateral.TCBInfoTDXID, Version: 3, FMSPC: testFMSPC, PCEID: testPCEID,
		TCBLevels: []collateral.TCBLevel{
			tcbLevel(latestSvn, relaunchTopTDXComponents, latestPce, status.UpToDate),
			tcbLevel(latestSvn, relaunchBottomTDXComponents, earliestPce, status.OutOfDate),
		},
		TdxModuleIdentities: relaunchModuleIdentities(),
	}

	var td quote.TDReport15
	td.ReportData = tq.reportData
	td.TeeTCBSVN = relaunchTeeTcbSvn
	td.TeeTCBSVN2 = relaunchTeeTcbSvn2

	header := quote.Header{Version: 5, TEEType: quote.TEETypeTDX}
	raw := tq.sign(t, header, td, quote.BodyTypeTDReport15)

	v := Verify(raw, crl, tcbInfo, nil)
	require.Equal(t, status.TCBTDRelaunchAdvised, v)
}

// TestVerifyRelaunchAdvisedConfigurationNeededVariant is the relaunch case
// with the matched SGX level ConfigurationNeeded instead of UpToDate, and
// a matching QE identity, escalating the relaunch verdict to its
// configuration-needed variant and confirming it survives the subsequent
// QE convergence step.
func TestVerifyRelaunchAdvisedConfigurationNeededVariant(t *testing.T) {
	cm := buildCertMaterial(t, latestSvn, latestPce, testFMSPC, testPCEID)
	crl := buildCRL(t, cm, nil)
	tq := newTestQuote(t, cm)

	qeIdentity := &collateral.EnclaveIdentity{
		ID: collateral.EnclaveIdentityTDQEID, Version: 2, MiscSelectMask: 0xFFFFFFFF,
		ISVProdID: 1,
		TCBLevels: []collateral.EnclaveTCBLevel{
			{ISVSVN: 0, Status: status.UpToDate},
		},
	}
	tcbInfo := collateral.TCBInfo{
		ID: collateral.TCBInfoTDXID, Version: 3, FMSPC: testFMSPC, PCEID: testPCEID,
		TCBLevels: []collateral.TCBLevel{
			tcbLevel(latestSvn, relaunchTopTDXComponents, latestPce, status.ConfigurationNeeded),
			tcbLevel(latestSvn, relaunchBottomTDXComponents, earliestPce, status.OutOfDate),
		},
		TdxModuleIdentities: relaunchModuleIdentities(),
	}

	var td quote.TDReport15
	td.ReportData = tq.reportData
	td.TeeTCBSVN = relaunchTeeTcbSvn
	td.TeeTCBSVN2 = relaunchTeeTcbSvn2

	header := quote.Header{Version: 5, TEEType: quote.TEETypeTDX}
	raw := tq.sign(t, header, td, quote.BodyTypeTDReport15)

	v := Verify(raw, crl, tcbInfo, qeIdentity)
	require.Equal(t, status.TCBTDRelaunchAdvisedConfigurationNeeded, v)
}

// FuzzVerify_All feeds arbitrary, fuzzer-mutated bytes straight into
// Verify as a raw quote, against a fresh valid PCK CRL and TcbInfo
// document, checking only that Verify never panics on malformed input.
func FuzzVerify_All(f *testing.F) {
	f.Fuzz(func(t *testing.T, a []byte) {
		fc := fuzzheaders.NewConsumer(a)
		raw, err := fc.GetBytes()
		if err != nil {
			return
		}

		cm := buildCertMaterial(t, latestSvn, latestPce, testFMSPC, testPCEID)
		crl := buildCRL(t, cm, nil)
		tcbInfo := collateral.TCBInfo{
			ID: collateral.TCBInfoSGXID, Version: 2, FMSPC: testFMSPC, PCEID: testPCEID,
			TCBLevels: []collateral.TCBLevel{
				tcbLevel(latestSvn, [16]byte{}, latestPce, status.UpToDate),
			},
		}

		assert.NotPanics(t, func() { Verify(raw, crl, tcbInfo, nil) })
	})
}
