package model

import "time"

// UserBrokerRole distinguishes execution accounts from the single system-wide
// market-data account.
type UserBrokerRole string

const (
	RoleExec UserBrokerRole = "EXEC"
	RoleData UserBrokerRole = "DATA"
)

// BrokerCredentials are the secrets an adapter needs to authenticate.
type BrokerCredentials struct {
	APIKey     string `json:"api_key"`
	ClientCode string `json:"client_code"`
	Password   string `json:"password"`
	TOTPSecret string `json:"totp_secret"`
}

// UserBroker binds a user to one broker account. Exactly one DATA user-broker
// exists system-wide; EXEC user-brokers receive deliveries.
type UserBroker struct {
	ID            string            `json:"id"`
	UserID        string            `json:"user_id"`
	BrokerID      string            `json:"broker_id"`
	Role          UserBrokerRole    `json:"role"`
	Credentials   BrokerCredentials `json:"-"`
	Active        bool              `json:"active"`
	Connected     bool              `json:"connected"`
	SessionExpiry time.Time         `json:"session_expiry"`
}

// BrokerSession is one row of the user-broker session store, polled by the
// token refresh watchdog.
type BrokerSession struct {
	UserBrokerID string    `json:"user_broker_id"`
	SessionID    string    `json:"session_id"`
	AccessToken  string    `json:"access_token"`
	FeedToken    string    `json:"feed_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
