package performance

import (
	"time"

	"perfmon-service/service/models"
)

// DistributionKind 访问分布的时间维度
type DistributionKind string

const (
	ByHour      DistributionKind = "hour"
	ByDayOfWeek DistributionKind = "day_of_week"
)

// ParseDistributionKind 解析时间维度，未知值返回 false
func ParseDistributionKind(v string) (DistributionKind, bool) {
	switch DistributionKind(v) {
	case ByHour, "":
		return ByHour, true
	case ByDayOfWeek:
		return ByDayOfWeek, true
	}
	return "", false
}

// TimeBucket 单个小时（0-23）或星期（0=周日）的访问统计
type TimeBucket struct {
	Bucket         int         `json:"bucket"`
	Label          string      `json:"label"`
	Count          int         `json:"count"`
	AvgRequestTime *float64    `json:"avg_request_time"`
	StatusCodes    map[int]int `json:"status_codes"`
}

// Distribute 将访问记录分到固定的时间桶中，没有访问的桶也会返回
func Distribute(records []models.PerformanceRecord, by DistributionKind, loc *time.Location) []TimeBucket {
	if loc == nil {
		loc = time.Local
	}

	size := 24
	if by == ByDayOfWeek {
		size = 7
	}
	buckets := make([]TimeBucket, size)
	durations := make([][]float64, size)
	for i := range buckets {
		buckets[i] = TimeBucket{Bucket: i, Label: bucketLabel(by, i), StatusCodes: make(map[int]int)}
	}

	for _, r := range records {
		at := r.CreatedAt.In(loc)
		i := at.Hour()
		if by == ByDayOfWeek {
			i = int(at.Weekday())
		}
		buckets[i].Count++
		if r.RequestTimeSeconds != nil {
			durations[i] = append(durations[i], *r.RequestTimeSeconds)
		}
		if r.StatusCode != nil {
			buckets[i].StatusCodes[*r.StatusCode]++
		}
	}

	for i := range buckets {
		buckets[i].AvgRequestTime = AggregateValues(durations[i]).Mean
	}
	return buckets
}

func bucketLabel(by DistributionKind, i int) string {
	if by == ByDayOfWeek {
		return time.Weekday(i).String()
	}
	return time.Date(2000, 1, 1, i, 0, 0, 0, time.UTC).Format("15:04")
}
