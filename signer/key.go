package signer

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// FromHex builds a Signer from a hex-encoded private key (with or without
// the "0x" prefix). funderAddr may be the zero address for a plain EOA
// account, in which case the signer's own address is used as maker.
func FromHex(privateKeyHex string, funderAddr common.Address, signatureType int) (*Signer, error) {
	pk, err := crypto.HexToECDSA(trim0x(privateKeyHex))
	if err != nil {
		return nil, fmt.Errorf("signer: invalid private key: %w", err)
	}
	return New(pk, funderAddr, signatureType), nil
}

func trim0x(s string) string {
	if len(s) > 1 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
