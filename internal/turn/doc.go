// Package turn 提供按用户串行化对话回合的单飞锁与回合截止时间。
package turn
