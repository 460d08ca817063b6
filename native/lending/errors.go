package lending

import "errors"

var (
	ErrUnauthorized           = errors.New("lending engine: unauthorized")
	ErrNotAVault              = errors.New("lending engine: not a vault")
	ErrAlreadyExists          = errors.New("lending engine: already exists")
	ErrNonexistentTranche     = errors.New("lending engine: nonexistent tranche")
	ErrTrancheNotEmpty        = errors.New("lending engine: tranche still holds shares")
	ErrZeroShares             = errors.New("lending engine: zero shares")
	ErrInsufficientCollateral = errors.New("lending engine: insufficient collateral")
	ErrInsufficientLiquidity  = errors.New("lending engine: insufficient liquidity")
	ErrInsufficientAllowance  = errors.New("lending engine: insufficient credit allowance")
	ErrInsufficientDebt       = errors.New("lending engine: repayment exceeds debt")
	ErrInsolvent              = errors.New("lending engine: loss exceeds total assets")
	ErrMintUnsupported        = errors.New("lending engine: mint by share amount unsupported")
	ErrExceedsMaxWithdraw     = errors.New("lending engine: withdraw exceeds max")
	ErrExceedsMaxRedeem       = errors.New("lending engine: redeem exceeds max")
	ErrInvalidAmount          = errors.New("lending engine: amount must be positive")
	ErrInvalidAddress         = errors.New("lending engine: invalid address")
	ErrRateOverflow           = errors.New("lending engine: interest rate overflow")
	ErrUtilisationRange       = errors.New("lending engine: utilisation above 100")
	ErrInvalidInterestConfig  = errors.New("lending engine: invalid interest configuration")
	ErrWeightOverflow         = errors.New("lending engine: tranche weight overflow")
	ErrVaultHealthy           = errors.New("lending engine: vault not eligible for liquidation")
	ErrVaultInLiquidation     = errors.New("lending engine: vault in liquidation")
	ErrVaultNotInLiquidation  = errors.New("lending engine: vault not in liquidation")
	ErrDebtTokenNotSet        = errors.New("lending engine: debt token not configured")
	ErrLiquidatorNotSet       = errors.New("lending engine: liquidator not configured")
	ErrPoolNotInitialised     = errors.New("lending engine: pool not initialised")

	errNilState = errors.New("lending engine: state not configured")
)
