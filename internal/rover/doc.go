// Package rover wires the control components into one operator session.
//
// A Rover owns the remote client, the rate gate, the command dispatcher,
// the camera and speech sessions, the demo controller, the event hub and
// the audit log. Presentation layers talk to the Rover and subscribe to
// its Hub; they never reach the components' transports directly.
package rover
