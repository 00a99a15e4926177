// Package notify delivers goOTP codes and credential-change notices by email
// over SMTP.
package notify
