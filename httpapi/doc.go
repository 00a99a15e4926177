// Package httpapi exposes a goOTP engine over JSON endpoints with echo.
//
//	POST /challenge           request a code (password reset or registration)
//	POST /challenge/verify    submit a code and complete the workflow
//	POST /challenge/finalize  retry a workflow whose final write failed
//	GET  /healthz
//
// Responses never reveal whether an address has an account, except for the
// already-registered answer of a registration request.
package httpapi
