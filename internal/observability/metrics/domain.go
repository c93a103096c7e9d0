package metrics

import (
	"fmt"
	"strings"
	"sync"
)

// 轮次结果标签。
const (
	RoundNoResult     = "no_result"
	RoundSkipped      = "skipped"
	RoundSubmitted    = "submitted"
	RoundSubmitFailed = "submit_failed"
)

type counterFamily struct {
	name   string
	help   string
	labels []string
}

var (
	roundsFamily      = counterFamily{name: "consensus_rounds_total", help: "Trading rounds by pair and outcome.", labels: []string{"pair", "outcome"}}
	votesFamily       = counterFamily{name: "consensus_expert_votes_total", help: "Expert votes collected, split by degraded fallback.", labels: []string{"recommendation", "degraded"}}
	submissionsFamily = counterFamily{name: "consensus_automation_submissions_total", help: "Automation registration attempts by result.", labels: []string{"result"}}
)

type counterSet struct {
	mu     sync.Mutex
	order  []counterFamily
	values map[string]map[string]uint64
}

var domainCounters = newCounterSet(roundsFamily, votesFamily, submissionsFamily)

func newCounterSet(families ...counterFamily) *counterSet {
	set := &counterSet{order: families, values: make(map[string]map[string]uint64, len(families))}
	for _, f := range families {
		set.values[f.name] = make(map[string]uint64)
	}
	return set
}

func (s *counterSet) inc(f counterFamily, values ...string) {
	key := labelPairs(f.labels, values)
	s.mu.Lock()
	s.values[f.name][key]++
	s.mu.Unlock()
}

func (s *counterSet) render() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b strings.Builder
	for _, f := range s.order {
		series := s.values[f.name]
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s counter\n", f.name, f.help, f.name)
		for _, k := range sortedKeys(series) {
			fmt.Fprintf(&b, "%s{%s} %d\n", f.name, k, series[k])
		}
	}
	return b.String()
}

// ObserveRound 记录一轮交易循环的结果。
func ObserveRound(pair, outcome string) {
	domainCounters.inc(roundsFamily, pair, outcome)
}

// ObserveVote 记录一张专家选票。
func ObserveVote(recommendation string, degraded bool) {
	flag := "false"
	if degraded {
		flag = "true"
	}
	domainCounters.inc(votesFamily, recommendation, flag)
}

// ObserveSubmission 记录一次链上注册尝试的结果，如 ok、conflict、failed。
func ObserveSubmission(result string) {
	domainCounters.inc(submissionsFamily, result)
}
