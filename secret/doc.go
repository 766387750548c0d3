// Package secret resolves credentials referenced from configuration files.
//
// A value is first expanded with ExpandEnvStrict, then any secret reference
// is replaced by its provider's value:
//
//	access_key: ${MINIO_ACCESS_KEY}
//	secret_key: secretref:env:MINIO_SECRET_KEY
//	session:    secretref:file:s3-session-token
//
// The built-in providers are "env" and "file"; others can be added to a
// Registry or passed to NewResolver directly.
package secret
