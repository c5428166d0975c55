package main

import (
	"bytes"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"recycler/crypto"
	"recycler/native/recycler"
)

func TestPrintScheduleStopsAtFloor(t *testing.T) {
	var out bytes.Buffer
	params := recycler.Params{BasePrice: big.NewInt(1_000), DecayRatePPM: 500_000, GrowthSlopePerDay: big.NewInt(0)}
	require.NoError(t, printSchedule(&out, params, 10, 1))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Equal(t, "DAY    WEIGHT_PRICE", lines[0])
	require.Equal(t, "0      1000", lines[1])
	require.Equal(t, "1      500", lines[2])
	require.Contains(t, lines[len(lines)-1], "price floor reached on day 2")
}

func TestRunAddressPrintsBothForms(t *testing.T) {
	addr := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	var out bytes.Buffer
	require.NoError(t, runAddress([]string{addr.Hex()}, &out))
	require.Contains(t, out.String(), addr.Hex())
	require.Contains(t, out.String(), crypto.EncodeAddress(addr))

	require.Error(t, runAddress(nil, &out))
}
