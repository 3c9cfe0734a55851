// Package redisstore mirrors stolenwatch activity into Redis.
//
// Every resolved location fix is pipelined as a GEOADD to stolenwatch:geo
// plus a hash at stolenwatch:device:{id} holding the latest fix. Every alert
// event is published as JSON on the stolenwatch:alerts channel so other
// tools can react in real time.
//
// Redis is optional. Connect returns ErrDisabled when redis.enabled is false,
// and Redis failures are never fatal to the poll loop.
package redisstore
