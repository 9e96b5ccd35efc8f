// Package pckext parses Intel's custom X.509 extension carried on a PCK
// (Provisioning Certification Key) leaf certificate: the PCK's own CPU
// SVN / PCE SVN, the platform's FMSPC, and its PCE ID. These values are
// what the TCB matcher uses to pick a TCB level, and what the quote
// verifier cross-checks against the TcbInfo document's own FMSPC/PCEID.
package pckext

import (
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"

	"github.com/tdxverify/dcap/collateral"
)

// sgxCertExtensionOID is the OID of Intel's custom SGX extension.
var sgxCertExtensionOID = asn1.ObjectIdentifier{1, 2, 840, 113741, 1, 13, 1}

// Extensions holds the fields of the SGX extension this core consults.
type Extensions struct {
	TCB   collateral.PckCertTcb
	FMSPC [6]byte
	PCEID [2]byte
}

// Parse extracts the SGX extension from pckCert's X.509 extensions and
// decodes it into Extensions.
func Parse(pckCert *x509.Certificate) (Extensions, error) {
	var raw []byte
	for _, ext := range pckCert.Extensions {
		if ext.Id.Equal(sgxCertExtensionOID) {
			raw = ext.Value
			break
		}
	}
	if len(raw) == 0 {
		return Extensions{}, errors.New("no SGX extension found in PCK certificate")
	}

	var asn1Ext asn1SGXExtensions
	if _, err := asn1.Unmarshal(raw, &asn1Ext); err != nil {
		return Extensions{}, fmt.Errorf("unmarshaling SGX extension: %w", err)
	}

	var ext Extensions

	if len(asn1Ext.PCEID.Value) != 2 {
		return Extensions{}, fmt.Errorf("invalid PCEID length: %d", len(asn1Ext.PCEID.Value))
	}
	ext.PCEID = [2]byte(asn1Ext.PCEID.Value)

	if len(asn1Ext.FMSPC.Value) != 6 {
		return Extensions{}, fmt.Errorf("invalid FMSPC length: %d", len(asn1Ext.FMSPC.Value))
	}
	ext.FMSPC = [6]byte(asn1Ext.FMSPC.Value)

	if len(asn1Ext.TCB.TCBInfo.CPUSVN.Value) != 16 {
		return Extensions{}, fmt.Errorf("invalid CPUSVN length: %d", len(asn1Ext.TCB.TCBInfo.CPUSVN.Value))
	}
	ext.TCB.CPUSVN = [16]byte(asn1Ext.TCB.TCBInfo.CPUSVN.Value)
	ext.TCB.PCESVN = uint16(asn1Ext.TCB.TCBInfo.PCESVN.Value)

	return ext, nil
}

// asn1SGXExtensions holds the ASN.1 encoded SGX extensions of a PCK cert.
// TCB, PCEID, and FMSPC are the fields this core consumes; PPID is decoded
// but not used. SGXType, PlatformInstanceID, and Configuration are present
// on real certificates but are not modeled; the decoder ignores those
// trailing elements.
type asn1SGXExtensions struct {
	PPID  asn1OctetString `asn1:"tag:SEQUENCE"`
	TCB   asn1TCB         `asn1:"tag:SEQUENCE"`
	PCEID asn1OctetString `asn1:"tag:SEQUENCE"`
	FMSPC asn1OctetString `asn1:"tag:SEQUENCE"`
}

type asn1TCB struct {
	TCBOid  asn1.ObjectIdentifier `asn1:"tag:OBJECT_IDENTIFIER"`
	TCBInfo asn1TCBInfo           `asn1:"tag:SEQUENCE"`
}

type asn1TCBInfo struct {
	Comp01SVN asn1Integer     `asn1:"tag:SEQUENCE"`
	Comp02SVN asn1Integer     `asn1:"tag:SEQUENCE"`
	Comp03SVN asn1Integer     `asn1:"tag:SEQUENCE"`
	Comp04SVN asn1Integer     `asn1:"tag:SEQUENCE"`
	Comp05SVN asn1Integer     `asn1:"tag:SEQUENCE"`
	Comp06SVN asn1Integer     `asn1:"tag:SEQUENCE"`
	Comp07SVN asn1Integer     `asn1:"tag:SEQUENCE"`
	Comp08SVN asn1Integer     `asn1:"tag:SEQUENCE"`
	Comp09SVN asn1Integer     `asn1:"tag:SEQUENCE"`
	Comp10SVN asn1Integer     `asn1:"tag:SEQUENCE"`
	Comp11SVN asn1Integer     `asn1:"tag:SEQUENCE"`
	Comp12SVN asn1Integer     `asn1:"tag:SEQUENCE"`
	Comp13SVN asn1Integer     `asn1:"tag:SEQUENCE"`
	Comp14SVN asn1Integer     `asn1:"tag:SEQUENCE"`
	Comp15SVN asn1Integer     `asn1:"tag:SEQUENCE"`
	Comp16SVN asn1Integer     `asn1:"tag:SEQUENCE"`
	PCESVN    asn1Integer     `asn1:"tag:SEQUENCE"`
	CPUSVN    asn1OctetString `asn1:"tag:SEQUENCE"`
}

type asn1OctetString struct {
	Oid   asn1.ObjectIdentifier `asn1:"tag:OBJECT_IDENTIFIER"`
	Value []byte                `asn1:"tag:OCTET_STRING"`
}

type asn1Integer struct {
	Oid   asn1.ObjectIdentifier `asn1:"tag:OBJECT_IDENTIFIER"`
	Value int                   `asn1:"tag:INTEGER"`
}
