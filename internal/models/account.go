package models

import "gorm.io/gorm"

// Account is the owner of virtual wallets and orders. Identities and
// credentials live in the authentication collaborator; the core only keeps
// the trading privileges it needs at decision points.
type Account struct {
	gorm.Model
	Name string `gorm:"uniqueIndex;not null" json:"name"`
	// FeeExempt marks an elevated account that trades without fees.
	FeeExempt bool `gorm:"default:false" json:"fee_exempt"`
}
