package metrics

import "time"

var (
	turns = Default.Counter("arcade_turns_total",
		"Conversational turns by result.", "result")
	turnDuration = Default.Histogram("arcade_turn_duration_seconds",
		"Duration of admitted turns in seconds.", nil)
	rounds = Default.Counter("arcade_rounds_total",
		"Game rounds by terminal outcome.", "profile", "outcome")
	relays = Default.Counter("arcade_relay_submissions_total",
		"Transaction relay calls by sign mode and result.", "mode", "result")
)

// ObserveTurn 记录一次对话回合的结果（ok、busy、timeout、error）与耗时。
// busy 的回合没有运行，不计入耗时分布。
func ObserveTurn(result string, duration time.Duration) {
	turns.Inc(result)
	if result != "busy" {
		turnDuration.Observe(duration.Seconds())
	}
}

// ObserveRound 记录一局游戏的终态。
func ObserveRound(profile, outcome string) {
	rounds.Inc(profile, outcome)
}

// ObserveRelay 记录一次交易中继调用。
func ObserveRelay(mode, result string) {
	relays.Inc(mode, result)
}
