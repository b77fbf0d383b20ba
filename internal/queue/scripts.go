package queue

import "github.com/redis/go-redis/v9"

// KEYS: job, wait, delayed
// ARGV: id, name, payload, attempts, backoff, removeComplete, removeFail, now, delay
var addScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1],
	'name', ARGV[2], 'payload', ARGV[3], 'attempts', ARGV[4], 'backoff', ARGV[5],
	'remove_complete', ARGV[6], 'remove_fail', ARGV[7],
	'attempts_made', 0, 'created_on', ARGV[8])
local delay = tonumber(ARGV[9])
if delay > 0 then
	redis.call('ZADD', KEYS[3], tonumber(ARGV[8]) + delay, ARGV[1])
else
	redis.call('LPUSH', KEYS[2], ARGV[1])
end
return 1
`)

// KEYS: wait, active, delayed, repeat
// ARGV: prefix, now, batch
//
// Due repeat entries materialise one job each, id "<key>:<score>", and are
// pushed to the next interval. Due delayed jobs move to wait. Then one job
// moves wait -> active; ids whose job
// hash was pruned are dropped.
var claimScript = redis.NewScript(`
local now = tonumber(ARGV[2])
local batch = tonumber(ARGV[3])
local due = redis.call('ZRANGEBYSCORE', KEYS[4], '-inf', now, 'WITHSCORES', 'LIMIT', 0, batch)
for i = 1, #due, 2 do
	local key = due[i]
	local score = due[i + 1]
	local sched = ARGV[1] .. 'repeat:' .. key
	local every = tonumber(redis.call('HGET', sched, 'every'))
	if not every then
		redis.call('ZREM', KEYS[4], key)
	else
		local id = key .. ':' .. score
		local jk = ARGV[1] .. 'job:' .. id
		if redis.call('EXISTS', jk) == 0 then
			local f = redis.call('HMGET', sched, 'name', 'payload', 'attempts', 'backoff', 'remove_complete', 'remove_fail')
			redis.call('HSET', jk,
				'name', f[1], 'payload', f[2], 'attempts', f[3], 'backoff', f[4],
				'remove_complete', f[5], 'remove_fail', f[6],
				'attempts_made', 0, 'created_on', now, 'repeat_key', key)
			redis.call('LPUSH', KEYS[1], id)
		end
		local nxt = tonumber(score) + every
		if nxt <= now then
			nxt = now + every
		end
		redis.call('ZADD', KEYS[4], nxt, key)
	end
end
local ready = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', now, 'LIMIT', 0, batch)
for _, id in ipairs(ready) do
	redis.call('ZREM', KEYS[3], id)
	redis.call('LPUSH', KEYS[1], id)
end
while true do
	local id = redis.call('RPOPLPUSH', KEYS[1], KEYS[2])
	if not id then
		return false
	end
	local jk = ARGV[1] .. 'job:' .. id
	if redis.call('EXISTS', jk) == 1 then
		redis.call('HSET', jk, 'processed_on', now)
		return id
	end
	redis.call('LREM', KEYS[2], 1, id)
end
`)

// KEYS: active, job, delayed, completed, failed, wait
// ARGV: id, now, outcome (completed|retry|failed), reason, delay, charge (1|0), prefix
var finishScript = redis.NewScript(`
local function prune(set, now, keep, prefix)
	if keep <= 0 then
		return
	end
	local old = redis.call('ZRANGEBYSCORE', set, '-inf', now - keep)
	for _, id in ipairs(old) do
		redis.call('DEL', prefix .. 'job:' .. id)
	end
	redis.call('ZREMRANGEBYSCORE', set, '-inf', now - keep)
end

redis.call('LREM', KEYS[1], 1, ARGV[1])
if redis.call('EXISTS', KEYS[2]) == 0 then
	return 'gone'
end
redis.call('LREM', KEYS[6], 0, ARGV[1])
local now = tonumber(ARGV[2])
local made = tonumber(redis.call('HGET', KEYS[2], 'attempts_made') or '0')
if ARGV[6] == '1' then
	made = made + 1
end
local attempts = tonumber(redis.call('HGET', KEYS[2], 'attempts') or '1')
redis.call('HSET', KEYS[2], 'attempts_made', made)

if ARGV[3] == 'completed' then
	redis.call('HSET', KEYS[2], 'finished_on', now)
	redis.call('ZADD', KEYS[4], now, ARGV[1])
	prune(KEYS[4], now, tonumber(redis.call('HGET', KEYS[2], 'remove_complete') or '0'), ARGV[7])
	return 'completed'
end

redis.call('HSET', KEYS[2], 'failed_reason', ARGV[4])
if ARGV[3] == 'retry' and made < attempts then
	redis.call('ZADD', KEYS[3], now + tonumber(ARGV[5]), ARGV[1])
	return 'retry'
end
redis.call('HSET', KEYS[2], 'finished_on', now)
redis.call('ZADD', KEYS[5], now, ARGV[1])
prune(KEYS[5], now, tonumber(redis.call('HGET', KEYS[2], 'remove_fail') or '0'), ARGV[7])
return 'failed'
`)

// KEYS: active, wait
// ARGV: prefix, now, stall
var stalledScript = redis.NewScript(`
local now = tonumber(ARGV[2])
local stall = tonumber(ARGV[3])
local n = 0
for _, id in ipairs(redis.call('LRANGE', KEYS[1], 0, -1)) do
	local p = tonumber(redis.call('HGET', ARGV[1] .. 'job:' .. id, 'processed_on') or '0')
	if now - p > stall then
		redis.call('LREM', KEYS[1], 1, id)
		redis.call('RPUSH', KEYS[2], id)
		n = n + 1
	end
end
return n
`)
