package mongodb

const (
	// ConnectionsCollection holds one document per linked channel.
	ConnectionsCollection = "platform_connections"

	// TokenVaultCollection holds encrypted token records keyed by
	// connection id. Raw tokens never appear in ConnectionsCollection.
	TokenVaultCollection = "connection_tokens"
)
