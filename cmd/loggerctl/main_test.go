// cmd/loggerctl/main_test.go
package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/datalogger/internal/board"
)

func TestBoardSet_ConfiguredIDs(t *testing.T) {
	boards, err := boardSet(0x0B, 0x04)
	require.NoError(t, err)

	reg := board.NewRegistry(nil, nil)
	for _, b := range boards {
		require.NoError(t, reg.Register(b))
	}
	assert.Equal(t, []uint8{0x04, board.BasicID, board.MotorID, 0x0B}, reg.IDs())

	f := board.New(0x0B, 5, 0x10, 0, 0x00010002, 0x00, 0x03, 0x00, 0x04)
	recs, err := reg.Dispatch(f.Encode(), &board.Session{ID: 1})
	require.NoError(t, err)
	require.Len(t, recs, 4)
	assert.Equal(t, board.ScannerVariable(0), recs[0].Variable)
	assert.Equal(t, float64(1), recs[0].Value)
}

func TestBoardSet_OutOfRange(t *testing.T) {
	_, err := boardSet(0x100, uint(board.GPIOID))
	assert.ErrorContains(t, err, "scanner-id")

	_, err = boardSet(uint(board.NetScannerID), 300)
	assert.ErrorContains(t, err, "gpio-id")
}
