package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS lists (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	name      TEXT NOT NULL DEFAULT '',
	address   TEXT NOT NULL UNIQUE,
	mode      TEXT NOT NULL DEFAULT 'group' CHECK(mode IN ('broadcast', 'group')),
	from_addr TEXT NOT NULL DEFAULT '',
	only_subscribers_send INTEGER NOT NULL DEFAULT 1 CHECK(only_subscribers_send IN (0, 1)),
	avoid_duplicates      INTEGER NOT NULL DEFAULT 0 CHECK(avoid_duplicates IN (0, 1)),
	imap_host TEXT NOT NULL DEFAULT '',
	imap_port INTEGER NOT NULL DEFAULT 993,
	imap_user TEXT NOT NULL DEFAULT '',
	imap_pass TEXT NOT NULL DEFAULT '',
	deleted   INTEGER NOT NULL DEFAULT 0 CHECK(deleted IN (0, 1))
);

CREATE TABLE IF NOT EXISTS list_allowed_senders (
	list_id INTEGER NOT NULL REFERENCES lists(id) ON DELETE CASCADE,
	email   TEXT NOT NULL,
	PRIMARY KEY (list_id, email)
);

CREATE TABLE IF NOT EXISTS list_sender_auth (
	list_id INTEGER NOT NULL REFERENCES lists(id) ON DELETE CASCADE,
	secret  TEXT NOT NULL,
	PRIMARY KEY (list_id, secret)
);

CREATE TABLE IF NOT EXISTS subscribers (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	list_id INTEGER NOT NULL REFERENCES lists(id) ON DELETE CASCADE,
	name    TEXT NOT NULL DEFAULT '',
	email   TEXT NOT NULL,
	bounces INTEGER NOT NULL DEFAULT 0,
	UNIQUE(list_id, email)
);

CREATE TABLE IF NOT EXISTS messages (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	list_id     INTEGER NOT NULL REFERENCES lists(id) ON DELETE CASCADE,
	message_id  TEXT NOT NULL,
	subject     TEXT NOT NULL DEFAULT '',
	from_addr   TEXT NOT NULL DEFAULT '',
	raw         TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	received_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_subscribers_list_id ON subscribers(list_id);
CREATE INDEX IF NOT EXISTS idx_messages_list_message_id ON messages(list_id, message_id);
CREATE INDEX IF NOT EXISTS idx_messages_status ON messages(status);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
