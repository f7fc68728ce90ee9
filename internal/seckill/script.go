package seckill

// luaSeckill 在 Redis 内一次性完成「判超卖 → 判一人一单 → 扣库存 + 记录用户 + 消息入流」。
// 三步必须不可分割：并发请求若能交错观察库存，最后一件就可能被卖出两次。
// KEYS[1]=库存key KEYS[2]=已购用户集合key KEYS[3]=订单Stream
// ARGV[1]=userId ARGV[2]=voucherId ARGV[3]=orderId
// 返回值契约对外固定：0=抢购成功 1=库存不足 2=重复下单
const luaSeckill = `
local stockKey = KEYS[1]
local orderKey = KEYS[2]
local streamKey = KEYS[3]
local userId = ARGV[1]
local voucherId = ARGV[2]
local orderId = ARGV[3]

if tonumber(redis.call('GET', stockKey) or '0') <= 0 then
  return 1
end
if redis.call('SISMEMBER', orderKey, userId) == 1 then
  return 2
end
redis.call('INCRBY', stockKey, -1)
redis.call('SADD', orderKey, userId)
redis.call('XADD', streamKey, '*', 'user_id', userId, 'voucher_id', voucherId, 'id', orderId)
return 0
`
