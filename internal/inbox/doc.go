// Package inbox 将聊天渠道收到的消息排队并分发给工作协程。
// 队列可以是进程内 channel、Redis list 或 RabbitMQ；消息处理失败不会重投，
// 避免同一条指令被重复下注。
package inbox
