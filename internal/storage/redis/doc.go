// Package redis 提供基于 Redis 的回合租约锁。多实例部署时，
// 同一用户的回合互斥依赖这里的 SET NX PX 原子写入。
package redis
