package domain

import "fmt"

// Asset identifies a value denomination held by the ledger.
type Asset string

// Assets known to the ledger.
const (
	// AssetNative is the base asset deposited into custody.
	AssetNative Asset = "native"
	// AssetWrapped is the token-accounted form of the native asset (asset A).
	AssetWrapped Asset = "wrapped"
	// AssetSecond is the asset obtained through the exchange (asset B).
	AssetSecond Asset = "second"
)

// ParseAsset validates an asset name.
func ParseAsset(s string) (Asset, error) {
	switch a := Asset(s); a {
	case AssetNative, AssetWrapped, AssetSecond:
		return a, nil
	default:
		return "", fmt.Errorf("unknown asset %q", s)
	}
}

// Direction is the conversion direction of a swap.
type Direction int

const (
	// AToB converts wrapped asset into the second asset.
	AToB Direction = iota
	// BToA converts the second asset back into wrapped asset.
	BToA
)

// Source returns the asset spent in this direction.
func (d Direction) Source() Asset {
	if d == BToA {
		return AssetSecond
	}
	return AssetWrapped
}

// Destination returns the asset received in this direction.
func (d Direction) Destination() Asset {
	if d == BToA {
		return AssetWrapped
	}
	return AssetSecond
}

func (d Direction) String() string {
	if d == BToA {
		return "b_to_a"
	}
	return "a_to_b"
}
