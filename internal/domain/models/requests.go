package models

// Requests for dashboard HTTP endpoints. Defined in domain for consistency and reuse.

type ForecastRequest struct {
	Asset string `query:"asset" json:"asset" validate:"required"`
	Days  int    `query:"days" json:"days" default:"7" validate:"gte=1,lte=30"`
}

type ModelsRequest struct {
	Asset string `query:"asset" json:"asset"`
}

type RollbackRequest struct {
	Version string `param:"version" json:"version" validate:"required"`
}

type HealthReportRequest struct {
	Asset string `query:"asset" json:"asset" validate:"required"`
}

type ExportRequest struct {
	Format  string `query:"format" json:"format" default:"json" validate:"oneof=json csv"`
	Asset   string `query:"asset" json:"asset"`
	Version string `query:"version" json:"version"`
	Days    int    `query:"days" json:"days" default:"90" validate:"gte=1,lte=365"`
}

type BackfillRequest struct {
	Assets []string `json:"assets" validate:"required,min=1"`
	Days   int      `json:"days" default:"90" validate:"gte=1,lte=365"`
}

type HistoryRequest struct {
	Asset string `query:"asset" json:"asset" validate:"required"`
	Days  int    `query:"days" json:"days" default:"30" validate:"gte=1,lte=365"`
}
