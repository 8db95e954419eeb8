// Package authcore is the session and authentication core of a
// server-rendered content site: stateless-feeling JWT auth backed by a
// durable session store, with device binding, refresh rotation and
// reuse revocation, an OTP second factor, and OAuth2 federation.
//
// The root package hosts the Orchestrator, which composes the concern
// packages (token, device, session, otp, sso, user) into the flows an
// HTTP layer calls. Nothing in the root package touches the wire; see
// httpapi for the transport.
package authcore
