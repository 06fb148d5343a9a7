package seeder

import (
	"log"

	"mietplatz/model"

	"gorm.io/gorm"
)

func SeedRoles(db *gorm.DB) {
	// Marketplace roles; "tenant" is the registration default, "landlord" is
	// granted when a user publishes a listing
	roles := []model.Role{
		{
			Name:        "Administrator",
			Code:        "admin",
			Description: "Full system access",
			IsSystem:    true, // Cannot be deleted
		},
		{
			Name:        "Landlord",
			Code:        "landlord",
			Description: "Can publish and manage property listings",
			IsSystem:    false,
		},
		{
			Name:        "Tenant",
			Code:        "tenant",
			Description: "Standard registered user, can book and message",
			IsSystem:    true, // The default role should be protected
		},
	}

	log.Println("Seeding roles...")

	for _, role := range roles {
		// We use 'Code' as the unique identifier to check existence
		if err := db.Where(model.Role{Code: role.Code}).FirstOrCreate(&role).Error; err != nil {
			log.Printf("Error seeding role %s: %v", role.Code, err)
		}
	}

	log.Println("Role seeding completed.")
}
