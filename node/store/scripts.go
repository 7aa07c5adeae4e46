package store

import "github.com/redis/go-redis/v9"

// All battle state transitions run as server-side scripts so each transition
// is a single atomic compare-and-swap against the JSON state record. Scripts
// receive the current time from the injected clock via ARGV; they never read
// the server clock.
//
// The claim script derives state and lock key names from ZSET members, which
// assumes a non-clustered Redis deployment.

// initBattle creates the state record once and registers the battle as
// active. KEYS: state, active. ARGV: battleId, stateJSON.
// Returns 1 when this call created the record.
var initBattleScript = redis.NewScript(`
if redis.call('SETNX', KEYS[1], ARGV[2]) == 1 then
  redis.call('SADD', KEYS[2], ARGV[1])
  return 1
end
return 0
`)

// openTurn transitions ArenaOpen -> TurnOpen for the expected turn and
// indexes the deadline. Later turns open through resolveAndOpenNext; keeping
// this to ArenaOpen means a redelivered creation message can never clobber a
// battle that has progressed. KEYS: state, deadlines.
// ARGV: battleId, turnIndex, deadlineUnixMs.
var openTurnScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then return 0 end
local st = cjson.decode(raw)
local turn = tonumber(ARGV[2])
if st.phase ~= 'ArenaOpen' then return 0 end
if st.lastResolvedTurnIndex ~= turn - 1 then return 0 end
st.phase = 'TurnOpen'
st.turnIndex = turn
st.deadlineUnixMs = tonumber(ARGV[3])
st.version = st.version + 1
redis.call('SET', KEYS[1], cjson.encode(st))
redis.call('ZADD', KEYS[2], tonumber(ARGV[3]), ARGV[1])
return 1
`)

// markResolving transitions TurnOpen -> Resolving for the expected turn.
// This CAS is the single serialization point per turn.
// KEYS: state. ARGV: turnIndex.
var markResolvingScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then return 0 end
local st = cjson.decode(raw)
if st.phase ~= 'TurnOpen' then return 0 end
if st.turnIndex ~= tonumber(ARGV[1]) then return 0 end
st.phase = 'Resolving'
st.version = st.version + 1
redis.call('SET', KEYS[1], cjson.encode(st))
return 1
`)

// resolveAndOpenNext commits a resolved turn and opens the next one.
// KEYS: state, deadlines.
// ARGV: battleId, curTurn, nextTurn, nextDeadlineUnixMs, streak, hpA, hpB.
var resolveAndOpenNextScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then return 0 end
local st = cjson.decode(raw)
if st.phase ~= 'Resolving' then return 0 end
if st.turnIndex ~= tonumber(ARGV[2]) then return 0 end
st.lastResolvedTurnIndex = tonumber(ARGV[2])
st.phase = 'TurnOpen'
st.turnIndex = tonumber(ARGV[3])
st.deadlineUnixMs = tonumber(ARGV[4])
st.noActionStreakBoth = tonumber(ARGV[5])
st.playerA.currentHp = tonumber(ARGV[6])
st.playerB.currentHp = tonumber(ARGV[7])
st.version = st.version + 1
redis.call('SET', KEYS[1], cjson.encode(st))
redis.call('ZADD', KEYS[2], tonumber(ARGV[4]), ARGV[1])
return 1
`)

// endBattle commits the terminal transition exactly once.
// KEYS: state, active, deadlines.
// ARGV: battleId, turnIndex, streak, hpA, hpB, reason, winnerId(''=none),
// endedAtUnixMs.
// Returns 1 EndedNow, 2 AlreadyEnded, 0 NotCommitted.
var endBattleScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then return 0 end
local st = cjson.decode(raw)
if st.phase == 'Ended' then return 2 end
if st.phase ~= 'Resolving' then return 0 end
if st.turnIndex ~= tonumber(ARGV[2]) then return 0 end
st.phase = 'Ended'
st.lastResolvedTurnIndex = tonumber(ARGV[2])
st.noActionStreakBoth = tonumber(ARGV[3])
st.playerA.currentHp = tonumber(ARGV[4])
st.playerB.currentHp = tonumber(ARGV[5])
st.endedReason = ARGV[6]
if ARGV[7] ~= '' then
  st.winnerPlayerId = ARGV[7]
else
  st.winnerPlayerId = nil
end
st.endedAtUnixMs = tonumber(ARGV[8])
st.version = st.version + 1
redis.call('SET', KEYS[1], cjson.encode(st))
redis.call('SREM', KEYS[2], ARGV[1])
redis.call('ZREM', KEYS[3], ARGV[1])
return 1
`)

// claimDue scans due deadlines and acquires per-turn lease locks.
// KEYS: deadlines. ARGV: nowUnixMs, limit, leaseTtlMs, retryDelayMs.
// Returns a flat array of [battleId, turnIndex, ...] for claimed battles.
var claimDueScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
local claimed = {}
for _, id in ipairs(due) do
  local raw = redis.call('GET', 'battle:state:' .. id)
  if not raw then
    redis.call('ZREM', KEYS[1], id)
  else
    local st = cjson.decode(raw)
    if st.phase == 'Ended' then
      redis.call('ZREM', KEYS[1], id)
    elseif st.phase ~= 'TurnOpen' then
      redis.call('ZADD', KEYS[1], tonumber(ARGV[1]) + tonumber(ARGV[4]), id)
    else
      local lock = 'lock:battle:' .. id .. ':turn:' .. string.format('%d', st.turnIndex)
      if redis.call('SET', lock, '1', 'NX', 'PX', tonumber(ARGV[3])) then
        redis.call('ZADD', KEYS[1], tonumber(ARGV[1]) + tonumber(ARGV[3]), id)
        claimed[#claimed+1] = id
        claimed[#claimed+1] = string.format('%d', st.turnIndex)
      end
    end
  end
end
return claimed
`)
