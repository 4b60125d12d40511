package domain

// DashboardStats is the operational snapshot served to the review console.
type DashboardStats struct {
	Activity struct {
		TotalRequests int     `json:"total_requests"`
		Cancelled     int     `json:"cancelled"`
		RPS           float64 `json:"rps"`
	} `json:"activity"`

	Decisions struct {
		Approved      int `json:"approved"`
		Denied        int `json:"denied"`
		Pended        int `json:"pended"`
		HardStops     int `json:"hard_stops"`
		ReturnedForFix int `json:"returned_for_correction"`
	} `json:"decisions"`

	Checks struct {
		Total      int     `json:"total"`
		Errors     int     `json:"errors"`
		P95Latency float64 `json:"p95_latency_ms"`
	} `json:"checks"`
}

// ReferenceCounts reports row counts of the reference tables, used by the
// health endpoint to catch an empty or partially loaded dataset.
type ReferenceCounts struct {
	Exclusions int `json:"exclusions"`
	CodeEdits  int `json:"code_relationships"`
	Diagnoses  int `json:"icd10_codes"`
	Mandates   int `json:"regulatory_mandates"`
}
