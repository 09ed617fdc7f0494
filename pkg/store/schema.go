package store

// schemaStatements create every table the service needs. Each statement is
// idempotent so migrate can run on every start. The placeholders are the
// vector dimension, then the HNSW graph degree and construction breadth.
const schemaStatements = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS tenants (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL,
	slug TEXT NOT NULL UNIQUE,
	status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'disabled')),
	default_language TEXT NOT NULL DEFAULT 'sv',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tenant_settings (
	tenant_id UUID PRIMARY KEY REFERENCES tenants(id) ON DELETE CASCADE,
	greeting_message TEXT,
	escalation_phone TEXT,
	escalation_email TEXT,
	retention_days INTEGER NOT NULL DEFAULT 90,
	allowed_domains TEXT[] NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS widget_keys (
	id UUID PRIMARY KEY,
	tenant_id UUID NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
	key TEXT NOT NULL UNIQUE,
	status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'disabled')),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS users (
	id UUID PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS tenant_user_roles (
	tenant_id UUID NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
	user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	role TEXT NOT NULL CHECK (role IN ('owner', 'editor', 'viewer')),
	PRIMARY KEY (tenant_id, user_id)
);

CREATE TABLE IF NOT EXISTS sessions (
	token_hash TEXT PRIMARY KEY,
	user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	expires_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS kb_documents (
	id UUID PRIMARY KEY,
	tenant_id UUID NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
	title TEXT NOT NULL,
	source_type TEXT NOT NULL CHECK (source_type IN ('pdf', 'text', 'url')),
	status TEXT NOT NULL DEFAULT 'processing' CHECK (status IN ('processing', 'ready', 'failed')),
	storage_url TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS kb_documents_tenant_idx ON kb_documents (tenant_id);
CREATE INDEX IF NOT EXISTS kb_documents_processing_idx ON kb_documents (created_at) WHERE status = 'processing';

CREATE TABLE IF NOT EXISTS kb_chunks (
	id UUID PRIMARY KEY,
	tenant_id UUID NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
	document_id UUID NOT NULL REFERENCES kb_documents(id) ON DELETE CASCADE,
	chunk_text TEXT NOT NULL,
	chunk_hash TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS kb_chunks_document_idx ON kb_chunks (document_id);

CREATE TABLE IF NOT EXISTS kb_embeddings (
	chunk_id UUID PRIMARY KEY REFERENCES kb_chunks(id) ON DELETE CASCADE,
	tenant_id UUID NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
	embedding vector(%d) NOT NULL
);
CREATE INDEX IF NOT EXISTS kb_embeddings_tenant_idx ON kb_embeddings (tenant_id);
CREATE INDEX IF NOT EXISTS kb_embeddings_hnsw_idx ON kb_embeddings
	USING hnsw (embedding vector_cosine_ops) WITH (m = %d, ef_construction = %d);

CREATE TABLE IF NOT EXISTS conversations (
	id UUID PRIMARY KEY,
	tenant_id UUID NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
	channel TEXT NOT NULL CHECK (channel IN ('web_widget', 'web_url', 'whatsapp')),
	status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'closed', 'escalated')),
	started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	ended_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS conversations_tenant_idx ON conversations (tenant_id, started_at DESC);

CREATE TABLE IF NOT EXISTS messages (
	id UUID PRIMARY KEY,
	tenant_id UUID NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
	conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system')),
	content TEXT,
	redacted_content TEXT,
	token_count INTEGER,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS messages_conversation_idx ON messages (conversation_id, created_at);

CREATE TABLE IF NOT EXISTS turns (
	id UUID PRIMARY KEY,
	tenant_id UUID NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
	conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	user_message_id UUID NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	assistant_message_id UUID NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	outcome TEXT NOT NULL CHECK (outcome IN ('answered', 'fallback', 'escalate')),
	confidence DOUBLE PRECISION,
	retrieved_chunk_ids TEXT[] NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS turns_tenant_outcome_idx ON turns (tenant_id, outcome, created_at DESC);

CREATE TABLE IF NOT EXISTS daily_stats (
	tenant_id UUID NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
	date DATE NOT NULL,
	total_conversations INTEGER NOT NULL DEFAULT 0,
	total_messages INTEGER NOT NULL DEFAULT 0,
	fallback_count INTEGER NOT NULL DEFAULT 0,
	escalations INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (tenant_id, date)
);
`
