package usage

// Stats 是用量事件的聚合统计。
type Stats struct {
	Total       int64            `json:"total"`
	Pending     int64            `json:"pending"`
	Processed   int64            `json:"processed"`
	ByKind      map[Kind]int64   `json:"byKind"`
	ByQueryType map[string]int64 `json:"byQueryType"`
}
