package solbc

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildBudgetInstructions(t *testing.T) {
	instrs, err := BuildBudgetInstructions(BudgetConfig{Units: 300_000, MicroLamportsUnit: 5000})
	require.NoError(t, err)
	require.Len(t, instrs, 2)

	limit, err := instrs[0].Data()
	require.NoError(t, err)
	assert.Equal(t, setComputeUnitLimit, limit[0])
	assert.Equal(t, uint32(300_000), binary.LittleEndian.Uint32(limit[1:]))

	price, err := instrs[1].Data()
	require.NoError(t, err)
	assert.Equal(t, setComputeUnitPrice, price[0])
	assert.Equal(t, uint64(5000), binary.LittleEndian.Uint64(price[1:]))
	assert.True(t, instrs[1].ProgramID().Equals(ComputeBudgetProgramID))
}

func TestBudgetDefaultsWithoutPrice(t *testing.T) {
	instrs, err := BuildBudgetInstructions(BudgetConfig{})
	require.NoError(t, err)
	require.Len(t, instrs, 1)

	data, err := instrs[0].Data()
	require.NoError(t, err)
	assert.Equal(t, DefaultComputeUnits, binary.LittleEndian.Uint32(data[1:]))
}

func TestUrgentBudget(t *testing.T) {
	u := BudgetConfig{Units: 100_000, MicroLamportsUnit: 1000}.Urgent()
	assert.Equal(t, UrgentComputeUnits, u.Units)
	assert.Equal(t, uint64(10_000), u.MicroLamportsUnit)

	assert.Equal(t, uint64(100_000), BudgetConfig{}.Urgent().MicroLamportsUnit)
}
