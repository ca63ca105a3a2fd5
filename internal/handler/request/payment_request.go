package request

type PayTransactionRequest struct {
	PaymentMethod string `json:"payment_method" binding:"required,oneof=esewa khalti ime_pay fonepay"`
}

type ReviewRequest struct {
	Action string `json:"action" binding:"required,oneof=approve reject"`
	Remark string `json:"remark" binding:"max=255"`
}
