package presence

import "strings"

// Redis keyspace, all under a fixed prefix and scoped by channel:
//
//	presence:data:$channel:$identity  string      presence payload for an identity
//	presence:pid:$channel:$connId     string      identity owning a connection
//	presence:cids:$channel:$identity  sorted set  connection ids backing an identity,
//	                                              scored by registration time
//	presence:pids:$channel            sorted set  identities present in a channel,
//	                                              scored by most recent registration
//
// Every key for a given channel hashes to the same shard, which is what makes
// the multi-key scripts in scripts.go valid.
const keyPrefix = "presence"

func key(parts ...string) string {
	return keyPrefix + ":" + strings.Join(parts, ":")
}

func payloadKey(channel, identity string) string {
	return key("data", channel, identity)
}

func reverseKey(channel, connectionId string) string {
	return key("pid", channel, connectionId)
}

func membersKey(channel, identity string) string {
	return key("cids", channel, identity)
}

func rosterKey(channel string) string {
	return key("pids", channel)
}
