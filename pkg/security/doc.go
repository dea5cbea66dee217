/*
Package security holds conduit's local credential protection and TLS setup.

Credentials persisted by the bolt token store are sealed with AES-256-GCM.
The key comes from a passphrase (CONDUIT_TOKEN_PASSPHRASE, hashed with SHA-256)
or from a random key file created on first use under ~/.conduit:

	key, err := security.LoadOrCreateKeyFile(filepath.Join(dir, "key"))
	sealer, err := security.NewSealer(key)
	sealed, err := sealer.SealString(token)

ClientTLSConfig builds the TLS settings for the console API and progress
hub, optionally trusting an extra CA bundle.
*/
package security
