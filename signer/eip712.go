// Package signer builds and EIP-712 signs CLOB orders for the exchange's
// conditional-token exchange contract. Native Go signing avoids the
// latency of shelling out to an external signer process.
package signer

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"math/rand"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/polyarb/execution"
)

// Exchange contract addresses (Polygon mainnet).
const (
	PolygonChainID           = 137
	ExchangeAddress          = "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"
	CollateralAddress        = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174" // USDC
	ConditionalTokensAddress = "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045"
	ZeroAddress              = "0x0000000000000000000000000000000000000000"
)

// Signature types recognized by the exchange contract.
const (
	SignatureTypeEOA        = 0
	SignatureTypePolyProxy  = 1
	SignatureTypeGnosisSafe = 2
)

// Order is an unsigned exchange order in the wire representation the
// contract expects.
type Order struct {
	Salt          *big.Int       `json:"salt"`
	Maker         common.Address `json:"maker"`
	Signer        common.Address `json:"signer"`
	Taker         common.Address `json:"taker"`
	TokenID       *big.Int       `json:"tokenId"`
	MakerAmount   *big.Int       `json:"makerAmount"`
	TakerAmount   *big.Int       `json:"takerAmount"`
	Expiration    *big.Int       `json:"expiration"`
	Nonce         *big.Int       `json:"nonce"`
	FeeRateBps    *big.Int       `json:"feeRateBps"`
	Side          uint8          `json:"side"`
	SignatureType uint8          `json:"signatureType"`
}

// SignedOrder is an Order together with its EIP-712 signature.
type SignedOrder struct {
	Order     *Order `json:"order"`
	Signature string `json:"signature"`
}

// Signer builds and EIP-712 signs orders on behalf of a maker account.
type Signer struct {
	privateKey    *ecdsa.PrivateKey
	signerAddress common.Address
	funderAddress common.Address
	chainID       int64
	exchangeAddr  common.Address
	signatureType int
}

// New builds a Signer for the given key pair. funderAddr is the address
// that holds collateral and shares; it may equal the signer's own address
// for a plain EOA account (signatureType EOA).
func New(privateKey *ecdsa.PrivateKey, funderAddr common.Address, signatureType int) *Signer {
	return &Signer{
		privateKey:    privateKey,
		signerAddress: crypto.PubkeyToAddress(privateKey.PublicKey),
		funderAddress: funderAddr,
		chainID:       PolygonChainID,
		exchangeAddr:  common.HexToAddress(ExchangeAddress),
		signatureType: signatureType,
	}
}

// Address returns the signer's own EOA address.
func (s *Signer) Address() common.Address {
	return s.signerAddress
}

// BuildOrder constructs an unsigned order for the given token, side, price
// and size. Amounts are truncated (never rounded up) to the decimal
// precision the exchange contract requires, so a signed order never
// requests more collateral than the caller actually authorized.
func (s *Signer) BuildOrder(tokenID string, side execution.OrderSide, price, size decimal.Decimal) (*Order, error) {
	tokenIDInt, ok := new(big.Int).SetString(tokenID, 10)
	if !ok {
		return nil, fmt.Errorf("signer: invalid token id %q", tokenID)
	}

	priceFloat, _ := price.Float64()
	sizeFloat, _ := size.Float64()

	var makerAmount, takerAmount *big.Int
	var sideByte uint8
	switch side {
	case execution.SideBuy:
		// Buying: maker gives USDC, taker amount is shares received.
		usdcAmount := sizeFloat * priceFloat
		makerAmount = toMakerAmount(usdcAmount)
		takerAmount = toTakerAmount(sizeFloat)
		sideByte = 0
	case execution.SideSell:
		// Selling: maker gives shares, taker amount is USDC received.
		makerAmount = toTakerAmount(sizeFloat)
		usdcAmount := sizeFloat * priceFloat
		takerAmount = toTakerAmount(usdcAmount)
		sideByte = 1
	default:
		return nil, fmt.Errorf("signer: unknown order side %q", side)
	}

	maker := s.funderAddress
	if maker == (common.Address{}) {
		maker = s.signerAddress
	}

	return &Order{
		Salt:          generateSalt(),
		Maker:         maker,
		Signer:        s.signerAddress,
		Taker:         common.HexToAddress(ZeroAddress),
		TokenID:       tokenIDInt,
		MakerAmount:   makerAmount,
		TakerAmount:   takerAmount,
		Expiration:    big.NewInt(0),
		Nonce:         big.NewInt(0),
		FeeRateBps:    big.NewInt(1000),
		Side:          sideByte,
		SignatureType: uint8(s.signatureType),
	}, nil
}

// Sign computes the EIP-712 digest for order and signs it with the
// configured private key.
func (s *Signer) Sign(order *Order) (*SignedOrder, error) {
	typedData := s.typedData(order)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("signer: hash domain: %w", err)
	}
	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("signer: hash message: %w", err)
	}

	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(messageHash)))
	hash := crypto.Keccak256Hash(rawData)

	sig, err := crypto.Sign(hash.Bytes(), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("signer: sign: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}

	return &SignedOrder{
		Order:     order,
		Signature: fmt.Sprintf("0x%x", sig),
	}, nil
}

// BuildAndSign is the common BuildOrder+Sign path used by order placement.
func (s *Signer) BuildAndSign(tokenID string, side execution.OrderSide, price, size decimal.Decimal) (*SignedOrder, error) {
	order, err := s.BuildOrder(tokenID, side, price, size)
	if err != nil {
		return nil, err
	}
	return s.Sign(order)
}

func (s *Signer) typedData(order *Order) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"Order": {
				{Name: "salt", Type: "uint256"},
				{Name: "maker", Type: "address"},
				{Name: "signer", Type: "address"},
				{Name: "taker", Type: "address"},
				{Name: "tokenId", Type: "uint256"},
				{Name: "makerAmount", Type: "uint256"},
				{Name: "takerAmount", Type: "uint256"},
				{Name: "expiration", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "feeRateBps", Type: "uint256"},
				{Name: "side", Type: "uint8"},
				{Name: "signatureType", Type: "uint8"},
			},
		},
		PrimaryType: "Order",
		Domain: apitypes.TypedDataDomain{
			Name:              "Polymarket CTF Exchange",
			Version:           "1",
			ChainId:           math.NewHexOrDecimal256(s.chainID),
			VerifyingContract: s.exchangeAddr.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"salt":          order.Salt.String(),
			"maker":         order.Maker.Hex(),
			"signer":        order.Signer.Hex(),
			"taker":         order.Taker.Hex(),
			"tokenId":       order.TokenID.String(),
			"makerAmount":   order.MakerAmount.String(),
			"takerAmount":   order.TakerAmount.String(),
			"expiration":    order.Expiration.String(),
			"nonce":         order.Nonce.String(),
			"feeRateBps":    order.FeeRateBps.String(),
			"side":          fmt.Sprintf("%d", order.Side),
			"signatureType": fmt.Sprintf("%d", order.SignatureType),
		},
	}
}

// toMakerAmount truncates a USDC amount to the contract's 6-decimal token
// units. Truncation (never rounding up) guarantees a signed order never
// requests more collateral than was authorized.
func toMakerAmount(amount float64) *big.Int {
	scaled := amount * 1e6
	return big.NewInt(int64(scaled))
}

// toTakerAmount rounds a share/USDC amount to 4 decimals before scaling to
// 6-decimal token units, matching the precision the contract accepts for
// the receiving leg of an order.
func toTakerAmount(amount float64) *big.Int {
	rounded := float64(int64(amount*10000+0.5)) / 10000
	scaled := rounded * 1e6
	return big.NewInt(int64(scaled))
}

func generateSalt() *big.Int {
	return big.NewInt(rand.Int63())
}

// ToAPIPayload converts a signed order into the JSON body the CLOB API
// expects, with the signature nested inside the order object and owner
// set to the API key rather than the maker address.
func (o *SignedOrder) ToAPIPayload(apiKey, orderType string) map[string]interface{} {
	sideStr := "BUY"
	if o.Order.Side == 1 {
		sideStr = "SELL"
	}

	return map[string]interface{}{
		"order": map[string]interface{}{
			"salt":          o.Order.Salt.Int64(),
			"maker":         o.Order.Maker.Hex(),
			"signer":        o.Order.Signer.Hex(),
			"taker":         o.Order.Taker.Hex(),
			"tokenId":       o.Order.TokenID.String(),
			"makerAmount":   o.Order.MakerAmount.String(),
			"takerAmount":   o.Order.TakerAmount.String(),
			"expiration":    o.Order.Expiration.String(),
			"nonce":         o.Order.Nonce.String(),
			"feeRateBps":    o.Order.FeeRateBps.String(),
			"side":          sideStr,
			"signatureType": int(o.Order.SignatureType),
			"signature":     o.Signature,
		},
		"owner":     apiKey,
		"orderType": orderType,
		"postOnly":  false,
	}
}
