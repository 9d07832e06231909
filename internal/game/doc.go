// Package game 实现石头剪刀布小游戏的回合状态机。
//
// 一局游戏由远端游戏服务驱动：客户端提交出拳与下注，签名并广播服务端下发的交易，
// 再沿着服务端返回的 continuation 链接获取结果，赢局时继续领取奖金。
// 每一步失败都会立即落到终态，不做重试。
package game
