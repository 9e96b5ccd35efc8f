// Package tcb selects the applicable TCB (Trusted Computing Base) level
// for a quote, given the PCK certificate's own TCB payload, a TcbInfo
// document's descending TCB level list, and — for TDX — the quote's TEE
// TCB SVN vector.
package tcb

import (
	"github.com/tdxverify/dcap/collateral"
	"github.com/tdxverify/dcap/status"
)

// cpuSvnHigherOrEqual reports whether pckTcb's CPU SVN is componentwise
// greater than or equal to level's SGX component vector.
func cpuSvnHigherOrEqual(pckTcb collateral.PckCertTcb, level collateral.TCBLevel) bool {
	for i := 0; i < 16; i++ {
		if pckTcb.CPUSVN[i] < level.TCB.SGXTCBComponents[i].SVN {
			return false
		}
	}
	return true
}

// tdxHigherOrEqual reports whether teeTcbSvn is componentwise greater
// than or equal to level's TDX component vector. When teeTcbSvn[1] (the
// asserted TDX Module version) is non-zero, indices 0 and 1 are skipped:
// those two are TdxModuleCheck's responsibility, not the platform TCB
// level's.
func tdxHigherOrEqual(teeTcbSvn [16]byte, level collateral.TCBLevel) bool {
	start := 0
	if teeTcbSvn[1] > 0 {
		start = 2
	}
	for i := start; i < 16; i++ {
		if teeTcbSvn[i] < level.TCB.TDXTCBComponents[i].SVN {
			return false
		}
	}
	return true
}

// Match selects the applicable SGX and TDX TCB levels from levels — which
// must already be sorted descending, per the TcbInfo document's own
// ordering — given the PCK certificate's TCB payload and, for TDX quotes,
// the quote's TEE TCB SVN. teeTcbSvn is nil for SGX quotes and legacy (v3)
// TDX quotes that carry no TEE TCB SVN.
//
// sgxLevel is the highest-ranked level whose CPU SVN and PCE SVN match;
// tdxLevel is additionally the highest-ranked such level whose TDX
// component vector also matches, and may be nil even when sgxLevel is
// not. If no level matches at all, Match returns a *status.VerdictError
// carrying status.TCBNotSupported.
func Match(pckTcb collateral.PckCertTcb, levels []collateral.TCBLevel, teeTcbSvn *[16]byte) (sgxLevel, tdxLevel *collateral.TCBLevel, err error) {
	for i := range levels {
		level := levels[i]

		if !cpuSvnHigherOrEqual(pckTcb, level) || pckTcb.PCESVN < level.TCB.PCESVN {
			continue
		}

		if teeTcbSvn == nil {
			return &level, nil, nil
		}

		if sgxLevel == nil {
			sgxLevel = &level
		}

		if tdxHigherOrEqual(*teeTcbSvn, level) {
			tdxLevel = &level
			return sgxLevel, tdxLevel, nil
		}
	}

	if sgxLevel == nil {
		return nil, nil, status.NewVerdictError(status.TCBNotSupported, "no TCB level matches the PCK certificate's CPU SVN and PCE SVN")
	}
	return sgxLevel, tdxLevel, nil
}
