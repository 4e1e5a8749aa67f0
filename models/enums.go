package models

type SaleStatus string

const (
	SaleStatusCreated SaleStatus = "CREATED"
	SaleStatusUpdated SaleStatus = "UPDATED"
	// SaleStatusDeleted is terminal; the row is removed after restore, so the
	// value only ever appears in logs and reports.
	SaleStatusDeleted SaleStatus = "DELETED"
)

type AllocationMode string

const (
	AllocationModeAuto   AllocationMode = "AUTO"
	AllocationModeManual AllocationMode = "MANUAL"
)

const (
	ReconCheckStockDrift    = "STOCK_DRIFT"
	ReconCheckReplayDeficit = "REPLAY_DEFICIT"
)
