package sqlite

import "database/sql"

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS candles (
		symbol       TEXT    NOT NULL,
		tf           INTEGER NOT NULL,
		bucket_start INTEGER NOT NULL,
		open         TEXT    NOT NULL,
		high         TEXT    NOT NULL,
		low          TEXT    NOT NULL,
		close        TEXT    NOT NULL,
		volume       INTEGER NOT NULL DEFAULT 0,
		closed       INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (symbol, tf, bucket_start)
	);

	CREATE TABLE IF NOT EXISTS signals (
		id        TEXT PRIMARY KEY,
		symbol    TEXT    NOT NULL,
		direction TEXT    NOT NULL,
		ts        INTEGER NOT NULL,
		strength  TEXT    NOT NULL,
		snapshot  TEXT    NOT NULL,
		ttl_ms    INTEGER NOT NULL,
		status    TEXT    NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_signals_symbol_status ON signals(symbol, status);

	CREATE TABLE IF NOT EXISTS signal_deliveries (
		id             TEXT PRIMARY KEY,
		signal_id      TEXT    NOT NULL,
		user_broker_id TEXT    NOT NULL,
		status         TEXT    NOT NULL,
		intent_id      TEXT,
		created_at     INTEGER NOT NULL,
		updated_at     INTEGER NOT NULL,
		version        INTEGER NOT NULL DEFAULT 0,
		UNIQUE (signal_id, user_broker_id)
	);
	CREATE INDEX IF NOT EXISTS idx_deliveries_status ON signal_deliveries(status);

	CREATE TABLE IF NOT EXISTS trade_intents (
		id             TEXT PRIMARY KEY,
		signal_id      TEXT    NOT NULL,
		user_broker_id TEXT    NOT NULL,
		user_id        TEXT    NOT NULL,
		symbol         TEXT    NOT NULL,
		direction      TEXT    NOT NULL,
		passed         INTEGER NOT NULL,
		errors         TEXT,
		qty            INTEGER NOT NULL DEFAULT 0,
		limit_price    TEXT    NOT NULL DEFAULT '0',
		order_type     TEXT    NOT NULL DEFAULT 'MARKET',
		product_type   TEXT    NOT NULL DEFAULT 'DELIVERY',
		log_impact     TEXT    NOT NULL DEFAULT '0',
		exposure_after TEXT    NOT NULL DEFAULT '0',
		status         TEXT    NOT NULL,
		created_at     INTEGER NOT NULL,
		UNIQUE (signal_id, user_broker_id)
	);

	CREATE TABLE IF NOT EXISTS trades (
		id              TEXT PRIMARY KEY,
		intent_id       TEXT    NOT NULL UNIQUE,
		signal_id       TEXT    NOT NULL,
		user_id         TEXT    NOT NULL,
		user_broker_id  TEXT    NOT NULL,
		symbol          TEXT    NOT NULL,
		direction       TEXT    NOT NULL,
		entry_kind      TEXT    NOT NULL,
		product_type    TEXT    NOT NULL,
		status          TEXT    NOT NULL,
		broker_order_id TEXT,
		entry_qty       INTEGER NOT NULL DEFAULT 0,
		filled_qty      INTEGER NOT NULL DEFAULT 0,
		entry_price     TEXT    NOT NULL DEFAULT '0',
		entry_time      INTEGER,
		stop_price      TEXT    NOT NULL DEFAULT '0',
		target_price    TEXT    NOT NULL DEFAULT '0',
		last_eval_price TEXT    NOT NULL DEFAULT '0',
		trail_highest   TEXT    NOT NULL DEFAULT '0',
		trail_stop      TEXT    NOT NULL DEFAULT '0',
		trail_active    INTEGER NOT NULL DEFAULT 0,
		exit_order_id   TEXT,
		exit_price      TEXT    NOT NULL DEFAULT '0',
		exit_qty        INTEGER NOT NULL DEFAULT 0,
		exit_reason     TEXT,
		exit_time       INTEGER,
		realized_pnl    TEXT    NOT NULL DEFAULT '0',
		log_return      TEXT    NOT NULL DEFAULT '0',
		holding_ms      INTEGER NOT NULL DEFAULT 0,
		error_code      TEXT,
		error_message   TEXT,
		version         INTEGER NOT NULL DEFAULT 0,
		created_at      INTEGER NOT NULL,
		updated_at      INTEGER NOT NULL,
		deleted_at      INTEGER
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_trades_broker_order
		ON trades(broker_order_id) WHERE broker_order_id IS NOT NULL AND broker_order_id != '';
	CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status);
	CREATE INDEX IF NOT EXISTS idx_trades_user_symbol ON trades(user_id, symbol);

	CREATE TABLE IF NOT EXISTS exit_intents (
		id          TEXT PRIMARY KEY,
		trade_id    TEXT    NOT NULL,
		reason      TEXT    NOT NULL,
		episode     INTEGER NOT NULL,
		status      TEXT    NOT NULL,
		qty         INTEGER NOT NULL DEFAULT 0,
		order_type  TEXT    NOT NULL DEFAULT 'MARKET',
		limit_price TEXT    NOT NULL DEFAULT '0',
		errors      TEXT,
		created_at  INTEGER NOT NULL,
		updated_at  INTEGER NOT NULL,
		UNIQUE (trade_id, reason, episode)
	);
	CREATE INDEX IF NOT EXISTS idx_exit_intents_trade ON exit_intents(trade_id, status);

	CREATE TABLE IF NOT EXISTS events (
		seq            INTEGER PRIMARY KEY,
		type           TEXT    NOT NULL,
		scope          TEXT    NOT NULL,
		user_id        TEXT,
		broker_id      TEXT,
		user_broker_id TEXT,
		signal_id      TEXT,
		intent_id      TEXT,
		trade_id       TEXT,
		order_id       TEXT,
		payload        TEXT,
		ts             INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_user ON events(user_id, seq);

	CREATE TABLE IF NOT EXISTS user_brokers (
		id             TEXT PRIMARY KEY,
		user_id        TEXT    NOT NULL,
		broker_id      TEXT    NOT NULL,
		role           TEXT    NOT NULL,
		api_key        TEXT    NOT NULL DEFAULT '',
		client_code    TEXT    NOT NULL DEFAULT '',
		password       TEXT    NOT NULL DEFAULT '',
		totp_secret    TEXT    NOT NULL DEFAULT '',
		active         INTEGER NOT NULL DEFAULT 0,
		connected      INTEGER NOT NULL DEFAULT 0,
		session_expiry INTEGER
	);

	CREATE TABLE IF NOT EXISTS user_broker_sessions (
		user_broker_id TEXT PRIMARY KEY,
		session_id     TEXT    NOT NULL,
		access_token   TEXT    NOT NULL DEFAULT '',
		feed_token     TEXT    NOT NULL DEFAULT '',
		expires_at     INTEGER,
		updated_at     INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS oauth_states (
		state      TEXT PRIMARY KEY,
		user_id    TEXT    NOT NULL,
		broker_id  TEXT    NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS mtf_config_global (
		id  INTEGER PRIMARY KEY CHECK (id = 1),
		doc TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS mtf_config_symbol (
		symbol         TEXT NOT NULL,
		user_broker_id TEXT NOT NULL DEFAULT '',
		doc            TEXT NOT NULL,
		PRIMARY KEY (symbol, user_broker_id)
	);

	CREATE TABLE IF NOT EXISTS trailing_config (
		id  INTEGER PRIMARY KEY CHECK (id = 1),
		doc TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS watchlist_templates (
		id      TEXT PRIMARY KEY,
		name    TEXT NOT NULL,
		symbols TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS watchlist_selections (
		user_broker_id TEXT PRIMARY KEY,
		template_id    TEXT NOT NULL,
		extra_symbols  TEXT NOT NULL DEFAULT ''
	);
	`)
	return err
}
