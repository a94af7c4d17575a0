package constants

const (
	// RequestIDLength size of the correlation id sent on id-correlated queries
	RequestIDLength = 16
	// CloseMessageCode identifies the message id for a close request
	CloseMessageCode = 1000
	// DefaultSocketTimeout is the dial timeout in seconds used when the
	// connection descriptor does not carry one
	DefaultSocketTimeout = 30
)

const (
	WebsocketScheme       = "ws"
	SecureWebsocketScheme = "wss"
)
