package models

import (
	"log"

	"bitbucket.org/mmdatafocus/scrapstock_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Item{}, &ItemAlias{},
		&PurchaseRecord{}, &Lot{},
		&Sale{}, &Allocation{},
		&IdempotencyKey{},
		&ReconciliationReport{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
