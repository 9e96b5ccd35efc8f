// Package collateral holds the value types for the documents a caller
// supplies alongside a quote: TCB Info, TDX module identities, and enclave
// identity (QE/TD_QE/QVE). These are parsed once from JSON at the
// collateral-retrieval boundary (outside this core, per its Non-goals) and
// then held as immutable value types for the duration of a verification
// call.
package collateral

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tdxverify/dcap/status"
)

const (
	// TCBInfoTDXID is the TcbInfo.id value for TDX platforms.
	TCBInfoTDXID = "TDX"
	// TCBInfoSGXID is the TcbInfo.id value for SGX-only platforms.
	TCBInfoSGXID = "SGX"
	// TCBInfoMinVersionForTDX is the minimum TcbInfo.version that may
	// describe a TDX platform.
	TCBInfoMinVersionForTDX = 3

	// EnclaveIdentityQEID is the enclave identity id for the SGX QE.
	EnclaveIdentityQEID = "QE"
	// EnclaveIdentityTDQEID is the enclave identity id for the TDX QE.
	EnclaveIdentityTDQEID = "TD_QE"
	// EnclaveIdentityQVEID is the enclave identity id for the QVE.
	EnclaveIdentityQVEID = "QVE"
	// EnclaveIdentityMinVersion is the minimum supported enclave identity
	// document version; v1 enclave identity documents are rejected for TDX.
	EnclaveIdentityMinVersion = 2
)

// PckCertTcb is the TCB-relevant payload of a PCK certificate's Intel SGX
// extension: the raw 16-byte CPU SVN and the PCE SVN. The per-component
// view (sgxComponents[16]) used by the Intel reference tooling is simply
// the same 16 CPUSVN bytes read one component at a time, so it is not
// duplicated here; tcb.Match indexes CPUSVN directly.
type PckCertTcb struct {
	CPUSVN [16]byte
	PCESVN uint16
}

// TCBComponent is one entry of a TCBLevel's SGX or TDX component vector.
type TCBComponent struct {
	SVN      uint8  `json:"svn"`
	Category string `json:"category"`
	Type     string `json:"type"`
}

// TCB is the raw tcb object embedded in a TCBLevel.
type TCB struct {
	SGXTCBComponents [16]TCBComponent `json:"sgxtcbcomponents"`
	TDXTCBComponents [16]TCBComponent `json:"tdxtcbcomponents"`
	PCESVN           uint16           `json:"pcesvn"`
	ISVSVN           uint16           `json:"isvsvn"`
}

// TCBLevel is one entry of a TcbInfo's descending tcbLevels list. TDX
// module identities and enclave identities carry their own level types,
// TdxModuleTCBLevel and EnclaveTCBLevel.
type TCBLevel struct {
	TCB         TCB              `json:"tcb"`
	TCBDate     time.Time        `json:"tcbDate"`
	Status      status.TCBStatus `json:"tcbStatus"`
	AdvisoryIDs []string         `json:"advisoryIDs"`
}

// UnmarshalJSON parses a TCBLevel from its wire JSON representation, where
// TCBDate is an RFC3339 string.
func (t *TCBLevel) UnmarshalJSON(data []byte) error {
	var raw tcbLevelJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("unmarshaling TCB level JSON: %w", err)
	}
	tcbDate, err := time.Parse(time.RFC3339, raw.TCBDate)
	if err != nil {
		return fmt.Errorf("parsing TCB level date: %w", err)
	}
	t.TCB = raw.TCB
	t.TCBDate = tcbDate
	t.Status = status.TCBStatus(raw.TCBStatus)
	t.AdvisoryIDs = raw.AdvisoryIDs
	return nil
}

type tcbLevelJSON struct {
	TCB         TCB      `json:"tcb"`
	TCBDate     string   `json:"tcbDate"`
	TCBStatus   string   `json:"tcbStatus"`
	AdvisoryIDs []string `json:"advisoryIDs"`
}

// TdxModule is the default TDX SEAM module identity carried directly on a
// TcbInfo document, used when a quote does not resolve to a specific
// TdxModuleIdentity.
type TdxModule struct {
	MRSIGNER       [48]byte `json:"mrSigner"`
	Attributes     [8]byte  `json:"attributes"`
	AttributesMask [8]byte  `json:"attributesMask"`
}

// UnmarshalJSON parses a TdxModule, where MRSIGNER/Attributes/
// AttributesMask are hex strings.
func (t *TdxModule) UnmarshalJSON(data []byte) error {
	var raw tdxModuleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("unmarshaling TDX module JSON: %w", err)
	}
	mrSigner, err := decodeHexToByte(raw.MRSIGNER, 48)
	if err != nil {
		return fmt.Errorf("decoding TDX module MRSIGNER: %w", err)
	}
	t.MRSIGNER = [48]byte(mrSigner)
	attrs, err := decodeHexToByte(raw.Attributes, 8)
	if err != nil {
		return fmt.Errorf("decoding TDX module attributes: %w", err)
	}
	t.Attributes = [8]byte(attrs)
	attrsMask, err := decodeHexToByte(raw.AttributesMask, 8)
	if err != nil {
		return fmt.Errorf("decoding TDX module attributes mask: %w", err)
	}
	t.AttributesMask = [8]byte(attrsMask)
	return nil
}

type tdxModuleJSON struct {
	MRSIGNER       string `json:"mrSigner"`
	Attributes     string `json:"attributes"`
	AttributesMask string `json:"attributesMask"`
}

// TdxModuleTCBLevel is one entry of a TdxModuleIdentity's descending-by-
// ISVSVN tcbLevels list.
type TdxModuleTCBLevel struct {
	ISVSVN      uint16           `json:"isvsvn"`
	TCBDate     time.Time        `json:"tcbDate"`
	Status      status.TCBStatus `json:"tcbStatus"`
	AdvisoryIDs []string         `json:"advisoryIDs"`
}

// UnmarshalJSON parses a TdxModuleTCBLevel from its wire JSON
// representation, where the ISVSVN lives under a nested "tcb" object and
// TCBDate is an RFC3339 string.
func (t *TdxModuleTCBLevel) UnmarshalJSON(data []byte) error {
	var raw tdxModuleTCBLevelJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("unmarshaling TDX module TCB level JSON: %w", err)
	}
	tcbDate, err := time.Parse(time.RFC3339, raw.TCBDate)
	if err != nil {
		return fmt.Errorf("parsing TDX module TCB level date: %w", err)
	}
	t.ISVSVN = raw.TCB.ISVSVN
	t.TCBDate = tcbDate
	t.Status = status.TCBStatus(raw.TCBStatus)
	t.AdvisoryIDs = raw.AdvisoryIDs
	return nil
}

type tdxModuleTCBLevelJSON struct {
	TCB struct {
		ISVSVN uint16 `json:"isvsvn"`
	} `json:"tcb"`
	TCBDate   string   `json:"tcbDate"`
	TCBStatus string   `json:"tcbStatus"`
	AdvisoryIDs []string `json:"advisoryIDs"`
}

// TdxModuleIdentity is a module identity in a TcbInfo's tdxModuleIdentities
// list. ID is of the form "TDX_XX" where XX is the uppercase hex of the
// module version byte.
type TdxModuleIdentity struct {
	ID             string              `json:"id"`
	MRSIGNER       [48]byte            `json:"mrSigner"`
	Attributes     [8]byte             `json:"attributes"`
	AttributesMask [8]byte             `json:"attributesMask"`
	TCBLevels      []TdxModuleTCBLevel `json:"tcbLevels"`
}

// UnmarshalJSON parses a TdxModuleIdentity, where MRSIGNER/Attributes/
// AttributesMask are hex strings.
func (t *TdxModuleIdentity) UnmarshalJSON(data []byte) error {
	var raw tdxModuleIdentityJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("unmarshaling TDX module identity JSON: %w", err)
	}
	mrSigner, err := decodeHexToByte(raw.MRSIGNER, 48)
	if err != nil {
		return fmt.Errorf("decoding TDX module identity MRSIGNER: %w", err)
	}
	t.MRSIGNER = [48]byte(mrSigner)
	attrs, err := decodeHexToByte(raw.Attributes, 8)
	if err != nil {
		return fmt.Errorf("decoding TDX module identity attributes: %w", err)
	}
	t.Attributes = [8]byte(attrs)
	attrsMask, err := decodeHexToByte(raw.AttributesMask, 8)
	if err != nil {
		return fmt.Errorf("decoding TDX module identity attributes mask: %w", err)
	}
	t.AttributesMask = [8]byte(attrsMask)
	t.ID = raw.ID
	t.TCBLevels = raw.TCBLevels
	return nil
}

type tdxModuleIdentityJSON struct {
	ID             string              `json:"id"`
	MRSIGNER       string              `json:"mrSigner"`
	Attributes     string              `json:"attributes"`
	AttributesMask string              `json:"attributesMask"`
	TCBLevels      []TdxModuleTCBLevel `json:"tcbLevels"`
}

// TCBInfo is the parsed TCB Info collateral document.
type TCBInfo struct {
	ID                      string              `json:"id"`
	Version                 uint32              `json:"version"`
	IssueDate               time.Time           `json:"issueDate"`
	NextUpdate              time.Time           `json:"nextUpdate"`
	FMSPC                   [6]byte             `json:"fmspc"`
	PCEID                   [2]byte             `json:"pceid"`
	TCBType                 int                 `json:"tcbType"`
	TCBEvaluationDataNumber uint32              `json:"tcbEvaluationDataNumber"`
	TdxModule               TdxModule           `json:"tdxModule"`
	TdxModuleIdentities     []TdxModuleIdentity `json:"tdxModuleIdentities"`
	TCBLevels               []TCBLevel          `json:"tcbLevels"`
}

// UnmarshalJSON parses a TCBInfo from its wire JSON representation, where
// FMSPC/PCEID are hex strings and the dates are RFC3339 strings.
func (t *TCBInfo) UnmarshalJSON(data []byte) error {
	var raw tcbInfoJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("unmarshaling TCB Info JSON: %w", err)
	}

	t.ID = raw.ID
	t.Version = raw.Version

	issueDate, err := time.Parse(time.RFC3339, raw.IssueDate)
	if err != nil {
		return fmt.Errorf("parsing TCB Info issue date: %w", err)
	}
	t.IssueDate = issueDate
	nextUpdate, err := time.Parse(time.RFC3339, raw.NextUpdate)
	if err != nil {
		return fmt.Errorf("parsing TCB Info next update date: %w", err)
	}
	t.NextUpdate = nextUpdate

	fmspc, err := decodeHexToByte(raw.FMSPC, 6)
	if err != nil {
		return fmt.Errorf("decoding FMSPC: %w", err)
	}
	t.FMSPC = [6]byte(fmspc)

	pceid, err := decodeHexToByte(raw.PCEID, 2)
	if err != nil {
		return fmt.Errorf("decoding PCEID: %w", err)
	}
	t.PCEID = [2]byte(pceid)

	t.TCBType = raw.TCBType
	t.TCBEvaluationDataNumber = raw.TCBEvaluationDataNumber
	t.TdxModule = raw.TdxModule
	t.TdxModuleIdentities = raw.TdxModuleIdentities
	t.TCBLevels = raw.TCBLevels

	return nil
}

type tcbInfoJSON struct {
	ID                      string              `json:"id"`
	Version                 uint32              `json:"version"`
	IssueDate               string              `json:"issueDate"`
	NextUpdate              string              `json:"nextUpdate"`
	FMSPC                   string              `json:"fmspc"`
	PCEID                   string              `json:"pceid"`
	TCBType                 int                 `json:"tcbType"`
	TCBEvaluationDataNumber uint32              `json:"tcbEvaluationDataNumber"`
	TdxModule               TdxModule           `json:"tdxModule"`
	TdxModuleIdentities     []TdxModuleIdentity `json:"tdxModuleIdentities"`
	TCBLevels               []TCBLevel          `json:"tcbLevels"`
}

// FindTdxModuleIdentity looks up the TDX module identity for the given
// module-version byte ("TDX_" + uppercase hex of version), matching
// case-insensitively since collateral providers are inconsistent about
// casing identity IDs.
func (t TCBInfo) FindTdxModuleIdentity(version byte) (*TdxModuleIdentity, bool) {
	id := fmt.Sprintf("TDX_%02X", version)
	for i := range t.TdxModuleIdentities {
		if strings.EqualFold(t.TdxModuleIdentities[i].ID, id) {
			return &t.TdxModuleIdentities[i], true
		}
	}
	return nil, false
}

// EnclaveTCBLevel is one entry of an EnclaveIdentity's ISVSVN-keyed
// tcbLevels list.
type EnclaveTCBLevel struct {
	ISVSVN      uint16           `json:"isvsvn"`
	TCBDate     time.Time        `json:"tcbDate"`
	Status      status.TCBStatus `json:"tcbStatus"`
	AdvisoryIDs []string         `json:"advisoryIDs"`
}

// UnmarshalJSON parses an EnclaveTCBLevel, where the ISVSVN lives under a
// nested "tcb" object and TCBDate is an RFC3339 string.
func (e *EnclaveTCBLevel) UnmarshalJSON(data []byte) error {
	var raw enclaveTCBLevelJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("unmarshaling enclave TCB level JSON: %w", err)
	}
	tcbDate, err := time.Parse(time.RFC3339, raw.TCBDate)
	if err != nil {
		return fmt.Errorf("parsing enclave TCB level date: %w", err)
	}
	e.ISVSVN = raw.TCB.ISVSVN
	e.TCBDate = tcbDate
	e.Status = status.TCBStatus(raw.TCBStatus)
	e.AdvisoryIDs = raw.AdvisoryIDs
	return nil
}

type enclaveTCBLevelJSON struct {
	TCB struct {
		ISVSVN uint16 `json:"isvsvn"`
	} `json:"tcb"`
	TCBDate     string   `json:"tcbDate"`
	TCBStatus   string   `json:"tcbStatus"`
	AdvisoryIDs []string `json:"advisoryIDs"`
}

// EnclaveIdentity is the parsed Enclave Identity v2 collateral document,
// describing the expected QE/TD_QE/QVE measurements.
type EnclaveIdentity struct {
	ID                      string            `json:"id"`
	Version                 uint32            `json:"version"`
	IssueDate               time.Time         `json:"issueDate"`
	NextUpdate              time.Time         `json:"nextUpdate"`
	TCBEvaluationDataNumber uint32            `json:"tcbEvaluationDataNumber"`
	MiscSelect              uint32            `json:"miscselect"`
	MiscSelectMask          uint32            `json:"miscselectMask"`
	Attributes              [16]byte          `json:"attributes"`
	AttributesMask          [16]byte          `json:"attributesMask"`
	MRSIGNER                [32]byte          `json:"mrsigner"`
	ISVProdID               uint16            `json:"isvprodid"`
	TCBLevels               []EnclaveTCBLevel `json:"tcbLevels"`
}

// UnmarshalJSON parses an EnclaveIdentity from its wire JSON representation.
func (e *EnclaveIdentity) UnmarshalJSON(data []byte) error {
	var raw enclaveIdentityJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("unmarshaling enclave identity JSON: %w", err)
	}

	e.ID = raw.ID
	e.Version = raw.Version

	issueDate, err := time.Parse(time.RFC3339, raw.IssueDate)
	if err != nil {
		return fmt.Errorf("parsing enclave identity issue date: %w", err)
	}
	e.IssueDate = issueDate
	nextUpdate, err := time.Parse(time.RFC3339, raw.NextUpdate)
	if err != nil {
		return fmt.Errorf("parsing enclave identity next update date: %w", err)
	}
	e.NextUpdate = nextUpdate
	e.TCBEvaluationDataNumber = raw.TCBEvaluationDataNumber

	miscSelect, err := decodeHexToByte(raw.MiscSelect, 4)
	if err != nil {
		return fmt.Errorf("decoding miscselect: %w", err)
	}
	e.MiscSelect = binary.LittleEndian.Uint32(miscSelect)
	miscSelectMask, err := decodeHexToByte(raw.MiscSelectMask, 4)
	if err != nil {
		return fmt.Errorf("decoding miscselectMask: %w", err)
	}
	e.MiscSelectMask = binary.LittleEndian.Uint32(miscSelectMask)

	attributes, err := decodeHexToByte(raw.Attributes, 16)
	if err != nil {
		return fmt.Errorf("decoding attributes: %w", err)
	}
	e.Attributes = [16]byte(attributes)
	attributesMask, err := decodeHexToByte(raw.AttributesMask, 16)
	if err != nil {
		return fmt.Errorf("decoding attributesMask: %w", err)
	}
	e.AttributesMask = [16]byte(attributesMask)

	mrSigner, err := decodeHexToByte(raw.MRSIGNER, 32)
	if err != nil {
		return fmt.Errorf("decoding mrsigner: %w", err)
	}
	e.MRSIGNER = [32]byte(mrSigner)

	e.ISVProdID = raw.ISVProdID
	e.TCBLevels = raw.TCBLevels

	return nil
}

type enclaveIdentityJSON struct {
	ID                      string            `json:"id"`
	Version                 uint32            `json:"version"`
	IssueDate               string            `json:"issueDate"`
	NextUpdate              string            `json:"nextUpdate"`
	TCBEvaluationDataNumber uint32            `json:"tcbEvaluationDataNumber"`
	MiscSelect              string            `json:"miscselect"`
	MiscSelectMask          string            `json:"miscselectMask"`
	Attributes              string            `json:"attributes"`
	AttributesMask          string            `json:"attributesMask"`
	MRSIGNER                string            `json:"mrsigner"`
	ISVProdID               uint16            `json:"isvprodid"`
	TCBLevels               []EnclaveTCBLevel `json:"tcbLevels"`
}

// decodeHexToByte decodes a hex string into a byte slice, failing if the
// decoded length does not match expectedLen, so callers can cast straight
// into a fixed-size array without a separate length check.
func decodeHexToByte(in string, expectedLen int) ([]byte, error) {
	out, err := hex.DecodeString(in)
	if err != nil {
		return nil, fmt.Errorf("decoding hex string: %w", err)
	}
	if len(out) != expectedLen {
		return nil, fmt.Errorf("expected %d bytes, got %d", expectedLen, len(out))
	}
	return out, nil
}
