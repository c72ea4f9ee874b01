package facebook

import (
	"social-publisher/infrastructure/socialcore"
)

// Series helpers for Graph insights metrics, shared with the Instagram
// adapter which reads the same response shape.

// LifetimeValue reads the single (latest) value of a lifetime-period metric.
func LifetimeValue(metric map[string]interface{}) int64 {
	values := socialcore.Slice(metric, "values")
	if len(values) == 0 {
		return 0
	}
	point, ok := values[len(values)-1].(map[string]interface{})
	if !ok {
		return 0
	}
	return socialcore.IntAt(point, "value")
}

// SumSeries totals a daily time series.
func SumSeries(metric map[string]interface{}) int64 {
	var total int64
	for _, v := range socialcore.Slice(metric, "values") {
		if point, ok := v.(map[string]interface{}); ok {
			total += socialcore.IntAt(point, "value")
		}
	}
	return total
}

// LatestSeries takes the last value of a series. Follower counts are levels,
// not flows, so they are never summed.
func LatestSeries(metric map[string]interface{}) int64 {
	return LifetimeValue(metric)
}

// LatestBreakdown reads the latest keyed-object value of a metric
// (country/city/age-gender demographics).
func LatestBreakdown(metric map[string]interface{}) map[string]int64 {
	values := socialcore.Slice(metric, "values")
	if len(values) == 0 {
		return map[string]int64{}
	}
	point, ok := values[len(values)-1].(map[string]interface{})
	if !ok {
		return map[string]int64{}
	}
	if breakdown := socialcore.Map(point, "value"); breakdown != nil {
		return socialcore.IntMap(breakdown)
	}
	return map[string]int64{}
}
