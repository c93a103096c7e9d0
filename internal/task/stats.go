package task

// Stats 聚合了已注册任务的统计信息，用于指标与状态展示。
type Stats struct {
	Total       int            `json:"total"`
	ByStatus    map[Status]int `json:"by_status"`
	TotalBudget uint64         `json:"total_budget"`
}

// Summarize 统计任务列表。
func Summarize(tasks []AutomationTask) Stats {
	stats := Stats{ByStatus: make(map[Status]int)}
	for _, t := range tasks {
		stats.Total++
		stats.ByStatus[t.Status]++
		stats.TotalBudget += t.Budget
	}
	return stats
}
