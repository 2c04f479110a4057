package database

import (
	"context"
	"fmt"
)

func (db *PostgresDB) InitSchema(ctx context.Context) error {
	// 1. Research Runs Table
	runsQuery := `
		CREATE TABLE IF NOT EXISTS research_runs (
			id UUID PRIMARY KEY,
			initial_query TEXT NOT NULL,
			phase TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'clarifying',
			checkpoint JSONB,
			answer TEXT,
			error TEXT,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`
	if _, err := db.Pool.Exec(ctx, runsQuery); err != nil {
		return fmt.Errorf("failed to create research_runs table: %w", err)
	}

	// 2. Research Logs Table
	logsQuery := `
		CREATE TABLE IF NOT EXISTS research_logs (
			id BIGSERIAL PRIMARY KEY,
			run_id UUID NOT NULL REFERENCES research_runs(id) ON DELETE CASCADE,
			timestamp TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			metadata JSONB
		);
	`
	if _, err := db.Pool.Exec(ctx, logsQuery); err != nil {
		return fmt.Errorf("failed to create research_logs table: %w", err)
	}

	if _, err := db.Pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_research_logs_run_id ON research_logs(run_id)"); err != nil {
		return fmt.Errorf("failed to create index on research_logs: %w", err)
	}
	if _, err := db.Pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_research_runs_created_at ON research_runs(created_at DESC)"); err != nil {
		return fmt.Errorf("failed to create index on research_runs: %w", err)
	}
	if _, err := db.Pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_research_runs_status ON research_runs(status)"); err != nil {
		return fmt.Errorf("failed to create status index on research_runs: %w", err)
	}

	// 3. Conversations Table, each one a follow-up on a finished run
	convQuery := `
		CREATE TABLE IF NOT EXISTS conversations (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			run_id UUID NOT NULL REFERENCES research_runs(id) ON DELETE CASCADE,
			title TEXT NOT NULL DEFAULT 'New Conversation',
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`
	if _, err := db.Pool.Exec(ctx, convQuery); err != nil {
		return fmt.Errorf("failed to create conversations table: %w", err)
	}

	// 4. Messages Table
	msgQuery := `
		CREATE TABLE IF NOT EXISTS messages (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`
	if _, err := db.Pool.Exec(ctx, msgQuery); err != nil {
		return fmt.Errorf("failed to create messages table: %w", err)
	}

	if _, err := db.Pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_messages_conversation_id ON messages(conversation_id)"); err != nil {
		return fmt.Errorf("failed to create index on messages: %w", err)
	}
	if _, err := db.Pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_conversations_run_id ON conversations(run_id, updated_at DESC)"); err != nil {
		return fmt.Errorf("failed to create index on conversations: %w", err)
	}

	return nil
}
