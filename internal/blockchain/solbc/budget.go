// internal/blockchain/solbc/budget.go
package solbc

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

var ComputeBudgetProgramID = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")

const (
	setComputeUnitLimit uint8 = 2
	setComputeUnitPrice uint8 = 3

	DefaultComputeUnits uint32 = 200_000
	UrgentComputeUnits  uint32 = 400_000
)

// BudgetConfig sets the compute unit limit and priority fee for a transaction.
type BudgetConfig struct {
	Units             uint32
	MicroLamportsUnit uint64
}

// Urgent returns a config with doubled units and a 10x priority fee, used for
// emergency transfers.
func (b BudgetConfig) Urgent() BudgetConfig {
	units := b.Units * 2
	if units < UrgentComputeUnits {
		units = UrgentComputeUnits
	}
	price := b.MicroLamportsUnit * 10
	if price == 0 {
		price = 100_000
	}
	return BudgetConfig{Units: units, MicroLamportsUnit: price}
}

// BuildBudgetInstructions returns the compute budget instructions for cfg.
func BuildBudgetInstructions(cfg BudgetConfig) ([]solana.Instruction, error) {
	if cfg.Units == 0 {
		cfg.Units = DefaultComputeUnits
	}

	limit, err := encodeBudget(setComputeUnitLimit, func(enc *bin.Encoder) error {
		return enc.WriteUint32(cfg.Units, bin.LE)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build compute unit limit instruction: %w", err)
	}
	instructions := []solana.Instruction{limit}

	if cfg.MicroLamportsUnit > 0 {
		price, err := encodeBudget(setComputeUnitPrice, func(enc *bin.Encoder) error {
			return enc.WriteUint64(cfg.MicroLamportsUnit, bin.LE)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build compute unit price instruction: %w", err)
		}
		instructions = append(instructions, price)
	}
	return instructions, nil
}

func encodeBudget(discriminator uint8, body func(*bin.Encoder) error) (solana.Instruction, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBinEncoder(buf)
	if err := enc.WriteUint8(discriminator); err != nil {
		return nil, err
	}
	if err := body(enc); err != nil {
		return nil, err
	}
	return solana.NewInstruction(ComputeBudgetProgramID, solana.AccountMetaSlice{}, buf.Bytes()), nil
}
