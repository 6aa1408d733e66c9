package entity

// Models 全部持久化模型（AutoMigrate 使用）
func Models() []interface{} {
	return []interface{}{
		&Vendor{},
		&VendorProduct{},
		&VendorScore{},
		&VendorScoreEvent{},
		&Order{},
		&OrderItem{},
		&AssignmentRetry{},
		&OrderRoutingLog{},
		&RoundRobinCursor{},
		&WorkflowState{},
		&IdempotencyKey{},
		&RoutingEvent{},
		&HealingAction{},
		&OrderRecovery{},
		&CreditLedgerEntry{},
	}
}
