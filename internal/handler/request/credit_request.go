package request

type DeductCreditsRequest struct {
	Amount      string  `json:"amount" binding:"required,money"`
	PickupID    *uint64 `json:"pickup_id"`
	Description string  `json:"description" binding:"max=255"`
}

type CreatePurchaseRequest struct {
	PackageID     uint64 `json:"package_id" binding:"required"`
	PaymentMethod string `json:"payment_method" binding:"required,oneof=esewa khalti bank_transfer"`
}

// HistoryQuery is bound from the query string.
type HistoryQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=200"`
}
