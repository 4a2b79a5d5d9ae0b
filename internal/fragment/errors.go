package fragment

import "errors"

var (
	ErrFragmentNotFound   = errors.New("fragment not found")
	ErrSelfPurchase       = errors.New("cannot purchase your own fragment")
	ErrInsufficientFunds  = errors.New("insufficient influence")
	ErrNoEligiblePurchase = errors.New("no unrated purchase for this fragment")
	ErrInvalidRating      = errors.New("rating must be between 1 and 5")
	ErrAgentNotFound      = errors.New("agent not found")
	ErrEmptyContent       = errors.New("fragment content is empty")
)
