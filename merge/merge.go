// Package merge resolves divergent copies of the same record into the value both sides converge on.
package merge

import "github.com/tcriess/lightspeed-conference/types"

// Users merges a locally cached user with the copy returned by the server. The counters take the maximum of both
// values, so a network race never regresses them; all profile fields are taken from the server.
func Users(local, server types.User) types.User {
	merged := server
	merged.Coins = max64(local.Coins, server.Coins)
	merged.ClickCount = max64(local.ClickCount, server.ClickCount)
	return merged
}

// Messages merges two copies of a message: the server's fields win, likes take the maximum.
func Messages(local, server types.Message) types.Message {
	merged := server
	merged.Likes = max64(local.Likes, server.Likes)
	return merged
}

// Polls merges two copies of a poll: the server's fields win, completedBy is the union of both sets in the order
// server first, then the local-only ids.
func Polls(local, server types.Poll) types.Poll {
	merged := server
	completedBy := make(types.JSONInt64Slice, 0, len(server.CompletedBy)+len(local.CompletedBy))
	seen := make(map[int64]struct{}, cap(completedBy))
	for _, ids := range []types.JSONInt64Slice{server.CompletedBy, local.CompletedBy} {
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			completedBy = append(completedBy, id)
		}
	}
	merged.CompletedBy = completedBy
	return merged
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
