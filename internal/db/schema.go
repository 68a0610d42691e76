package db

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NotifyChannel - канал LISTEN/NOTIFY, в который триггеры пишут о вставках
const NotifyChannel = "skillmates_inserts"

var schema = []string{
	`CREATE EXTENSION IF NOT EXISTS pgcrypto`,

	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		location TEXT,
		avatar TEXT,
		bio TEXT,
		availability TEXT NOT NULL DEFAULT 'Flexible'
			CHECK (availability IN ('Morning', 'Afternoon', 'Evening', 'Flexible')),
		skills_offered TEXT[] NOT NULL DEFAULT '{}',
		skills_wanted TEXT[] NOT NULL DEFAULT '{}',
		rating DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (rating >= 0 AND rating <= 5),
		reviews INTEGER NOT NULL DEFAULT 0 CHECK (reviews >= 0),
		is_public BOOLEAN NOT NULL DEFAULT TRUE,
		is_banned BOOLEAN NOT NULL DEFAULT FALSE,
		is_profile_approved BOOLEAN NOT NULL DEFAULT FALSE,
		role TEXT NOT NULL DEFAULT 'user' CHECK (role IN ('user', 'admin')),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS swap_requests (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		from_user_id UUID NOT NULL REFERENCES users (id),
		to_user_id UUID NOT NULL REFERENCES users (id),
		offered_skill TEXT NOT NULL,
		requested_skill TEXT NOT NULL,
		message TEXT,
		status TEXT NOT NULL DEFAULT 'pending'
			CHECK (status IN ('pending', 'accepted', 'rejected', 'cancelled', 'completed')),
		rating_from_sender INTEGER CHECK (rating_from_sender BETWEEN 1 AND 5),
		rating_from_recipient INTEGER CHECK (rating_from_recipient BETWEEN 1 AND 5),
		feedback_from_sender TEXT,
		feedback_from_recipient TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CHECK (from_user_id <> to_user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS swap_requests_from_idx ON swap_requests (from_user_id)`,
	`CREATE INDEX IF NOT EXISTS swap_requests_to_idx ON swap_requests (to_user_id)`,

	`CREATE TABLE IF NOT EXISTS chat_threads (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		request_id UUID NOT NULL UNIQUE REFERENCES swap_requests (id) ON DELETE CASCADE,
		participant_user_ids TEXT[] NOT NULL,
		is_completed BOOLEAN NOT NULL DEFAULT FALSE,
		completed_user_ids TEXT[] NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS chat_messages (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		thread_id UUID NOT NULL REFERENCES chat_threads (id) ON DELETE CASCADE,
		sender_user_id UUID NOT NULL REFERENCES users (id),
		content TEXT NOT NULL CHECK (length(btrim(content)) > 0),
		created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
	)`,
	`CREATE INDEX IF NOT EXISTS chat_messages_thread_idx ON chat_messages (thread_id, created_at, id)`,

	`CREATE TABLE IF NOT EXISTS announcements (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		title TEXT,
		message TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT 'info',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		expires_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	// Таблицы провайдера аутентификации
	`CREATE TABLE IF NOT EXISTS auth_accounts (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		email_confirmed BOOLEAN NOT NULL DEFAULT FALSE,
		profile_seed JSONB NOT NULL DEFAULT '{}',
		otp_hash TEXT,
		otp_expires_at TIMESTAMPTZ,
		otp_attempts INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_login_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS auth_sessions (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		account_id UUID NOT NULL REFERENCES auth_accounts (id) ON DELETE CASCADE,
		login_time TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		revoked_at TIMESTAMPTZ
	)`,

	`CREATE OR REPLACE FUNCTION skillmates_notify_insert() RETURNS trigger AS $$
	BEGIN
		PERFORM pg_notify('` + NotifyChannel + `', json_build_object('table', TG_TABLE_NAME, 'id', NEW.id)::text);
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql`,
}

// триггеры уведомлений нужны только коллекциям с realtime-подписками
var notifyTables = []string{"swap_requests", "chat_messages", "announcements"}

// Migrate создаёт схему бэкенда. Повторный запуск безопасен.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ошибка при применении схемы: %w", err)
		}
	}

	for _, table := range notifyTables {
		trigger := table + "_notify_insert"
		if _, err := pool.Exec(ctx, fmt.Sprintf(`DROP TRIGGER IF EXISTS %s ON %s`, trigger, table)); err != nil {
			return fmt.Errorf("ошибка при удалении триггера %s: %w", trigger, err)
		}
		if _, err := pool.Exec(ctx, fmt.Sprintf(
			`CREATE TRIGGER %s AFTER INSERT ON %s FOR EACH ROW EXECUTE FUNCTION skillmates_notify_insert()`,
			trigger, table)); err != nil {
			return fmt.Errorf("ошибка при создании триггера %s: %w", trigger, err)
		}
	}

	log.Println("✅ Схема бэкенда применена")
	return nil
}
