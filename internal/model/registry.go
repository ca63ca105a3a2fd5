package model

// AllModels lists every table AutoMigrate manages. Add new tables here, not in main.
func AllModels() []interface{} {
	return []interface{}{
		&WasteCategory{},
		&PickupRequest{},
		&Transaction{},
		&CollectorCreditAccount{},
		&CreditTransaction{},
		&CreditPackage{},
		&CreditPurchase{},
		&PaymentGatewayLog{},
		&EnvironmentalImpact{},
		&OutboxMessage{},
	}
}
