// Package camera tracks the rover's live video feed.
//
// The session moves Idle → Starting → Streaming → Stopping → Idle. The two
// transitional states cover the rover's capture start-up and tear-down
// latency and make overlapping start/stop requests impossible.
//
// Every transition bumps an epoch. A response is applied only when the
// session is still in the state, and epoch, that issued the request, so a
// late start success can never revive a feed the operator already stopped.
package camera
