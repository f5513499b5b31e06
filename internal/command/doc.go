// Package command turns operator intents into outbound rover requests.
//
// A Command is one of Motion, SpeedSet or FreeText. Dispatch validates it,
// consults the rate gate for its channel and hands it to that channel's
// sender. It never blocks on the network: the Outcome it returns is
// Sent, Throttled or InvalidArgument, and the final result of a sent
// command arrives later on the returned channel.
//
// Each channel has a single FIFO sender, so requests leave in the order the
// gate accepted them. There are no retries; the operator is the retry
// mechanism for motion and speed, and free-text failures carry the
// rover's detail so they can be shown and resubmitted.
package command
