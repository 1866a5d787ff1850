package iridium

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyBasicLines(t *testing.T) {
	assert.Equal(t, []Event{{Kind: EvATResponse, Line: "OK"}}, classify("OK"))
	assert.Equal(t, []Event{{Kind: EvRing}}, classify("RING"))
	assert.Equal(t, []Event{{Kind: EvReset}}, classify("ERROR"))
	assert.Equal(t, []Event{{Kind: EvATResponse, Line: "NO CARRIER"}, {Kind: EvNoCarrier}}, classify("NO CARRIER"))
	assert.Equal(t, []Event{{Kind: EvATResponse, Line: "CONNECT 19200"}, {Kind: EvConnect}}, classify("CONNECT 19200"))
}

func TestClassifySBDIX(t *testing.T) {
	evs := classify("+SBDIX: 0, 100, 1, 42, 12, 0")
	require.Len(t, evs, 1)
	assert.Equal(t, EvSBDTransmitComplete, evs[0].Kind)

	res, ok := ParseSBDIX(evs[0].SBDI)
	require.True(t, ok)
	assert.Equal(t, SBDIXResult{MOStatus: 0, MOMSN: 100, MTStatus: 1, MTMSN: 42, MTLength: 12, MTQueued: 0}, res)
}

func TestParseCIEV(t *testing.T) {
	var q SignalQuality
	require.True(t, ParseCIEV("+CIEV: 2,3", &q))
	assert.Equal(t, 3, q.RSSIBars)

	require.True(t, ParseCIEV("+CIEV: 0,1", &q))
	assert.True(t, q.ServiceAvail)
}
