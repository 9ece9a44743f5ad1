package models

// All lists every persisted model in migration order.
func All() []interface{} {
	return []interface{}{
		&Tenant{},
		&Client{},
		&PortalConfig{},
		&AuthIdentity{},
		&User{},
		&PasswordResetToken{},
		&Folder{},
		&Document{},
		&Closing{},
		&Invoice{},
		&Payment{},
		&PaymentMethod{},
		&WebhookEvent{},
		&AuditLog{},
	}
}
