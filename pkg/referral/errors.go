package referral

import "errors"

var (
	ErrInvalidReferralCode   = errors.New("invalid referral code")
	ErrSelfReferral          = errors.New("users cannot redeem their own referral code")
	ErrDuplicateReferralPair = errors.New("referral already redeemed for this pair")
	ErrCodeNotFound          = errors.New("referral code not found")
	ErrCodeTaken             = errors.New("referral code already taken")
	ErrCodeGeneration        = errors.New("failed to generate a unique referral code")
	ErrGrantNotFound         = errors.New("referral grant not found")
	ErrMissingUserID         = errors.New("user id is required")
	ErrStoreFailure          = errors.New("referral store failure")
	ErrQRGeneration          = errors.New("failed to generate referral QR code")
)
