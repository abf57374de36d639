package performance

import "perfmon-service/service/models"

// RecordView 对外展示的记录，附带换算后的内存（MB）
type RecordView struct {
	models.PerformanceRecord
	MemoryUsageMB *float64 `json:"memory_usage_mb"`
}

// NewRecordView 构建展示记录
func NewRecordView(r models.PerformanceRecord) RecordView {
	view := RecordView{PerformanceRecord: r}
	if r.MemoryUsageBytes != nil {
		mb := float64(*r.MemoryUsageBytes) / bytesPerMB
		view.MemoryUsageMB = &mb
	}
	return view
}
