package main

import (
	"log"

	"bitbucket.org/mmdatafocus/scrapstock_backend/config"
	"bitbucket.org/mmdatafocus/scrapstock_backend/models"
)

func main() {
	config.ConnectDatabaseWithRetry()
	models.MigrateTable()
	log.Println("migration complete")
}
