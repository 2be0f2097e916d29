package models

import (
	"log"

	"bitbucket.org/mmdatafocus/stockroom_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&SequenceCounter{},
		&InventoryItem{}, &Batch{},
		&Vendor{}, &VendorItem{},
		&PurchaseOrder{}, &PurchaseOrderItem{},
		&ReceivingLog{},
		&Customer{}, &Sale{}, &SaleItem{},
		&History{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
