package exchange

import (
	"encoding/binary"
	"fmt"

	"github.com/holiman/uint256"
)

// SwapDiscriminator prefixes encoded swap instructions.
const SwapDiscriminator byte = 0xf8

// EncodedSwapSize is the length of an encoded swap instruction:
// discriminator | amount_in u64 | minimum_amount_out u64 |
// sqrt_price_limit u128 | amount_specified_is_input u8 | a_to_b u8.
const EncodedSwapSize = 1 + 8 + 8 + 16 + 1 + 1

// MarshalBinary encodes the instruction data, little-endian. Account
// addresses are not part of the instruction data.
func (r SwapRequest) MarshalBinary() ([]byte, error) {
	if r.SqrtPriceLimit.BitLen() > 128 {
		return nil, fmt.Errorf("%w: sqrt price limit exceeds 128 bits", ErrInvalidRequest)
	}

	data := make([]byte, 0, EncodedSwapSize)
	data = append(data, SwapDiscriminator)
	data = binary.LittleEndian.AppendUint64(data, r.AmountIn)
	data = binary.LittleEndian.AppendUint64(data, r.MinimumAmountOut)
	// uint256 limbs are little-endian 64-bit words
	data = binary.LittleEndian.AppendUint64(data, r.SqrtPriceLimit[0])
	data = binary.LittleEndian.AppendUint64(data, r.SqrtPriceLimit[1])
	data = append(data, boolByte(r.AmountSpecifiedIsInput), boolByte(r.AToB))
	return data, nil
}

// UnmarshalBinary decodes instruction data produced by MarshalBinary.
func (r *SwapRequest) UnmarshalBinary(data []byte) error {
	if len(data) != EncodedSwapSize {
		return fmt.Errorf("%w: instruction length %d", ErrInvalidRequest, len(data))
	}
	if data[0] != SwapDiscriminator {
		return fmt.Errorf("%w: discriminator 0x%02x", ErrInvalidRequest, data[0])
	}

	r.AmountIn = binary.LittleEndian.Uint64(data[1:9])
	r.MinimumAmountOut = binary.LittleEndian.Uint64(data[9:17])
	r.SqrtPriceLimit = uint256.Int{
		binary.LittleEndian.Uint64(data[17:25]),
		binary.LittleEndian.Uint64(data[25:33]),
		0, 0,
	}

	var err error
	if r.AmountSpecifiedIsInput, err = parseBool(data[33]); err != nil {
		return err
	}
	if r.AToB, err = parseBool(data[34]); err != nil {
		return err
	}
	return nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func parseBool(b byte) (bool, error) {
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("%w: bool byte %d", ErrInvalidRequest, b)
	}
}
