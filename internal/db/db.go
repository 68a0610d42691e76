package db

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rajivgeraev/skillmates-api/internal/config"
)

// QueryTimeout - верхняя граница любого обращения к бэкенду
const QueryTimeout = 10 * time.Second

// Pool представляет пул соединений с базой данных
var Pool *pgxpool.Pool

// InitDB инициализирует соединение с базой данных
func InitDB(cfg *config.Config) (*pgxpool.Pool, error) {
	log.Printf("Подключение к бэкенду: %s\n", cfg.RedactedBackendURL())

	// Создаем контекст с таймаутом для подключения
	ctx, cancel := context.WithTimeout(context.Background(), QueryTimeout)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.BackendURL)
	if err != nil {
		return nil, fmt.Errorf("ошибка при разборе URL бэкенда: %w", err)
	}

	poolConfig.MaxConns = cfg.DatabaseConfig.MaxConns
	poolConfig.MinConns = cfg.DatabaseConfig.MinConns

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("ошибка при создании пула соединений: %w", err)
	}

	// Проверяем соединение
	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка при проверке соединения: %w", err)
	}

	Pool = pool
	log.Println("✅ Успешное подключение к бэкенду")
	return pool, nil
}

// CloseDB закрывает соединение с базой данных
func CloseDB() {
	if Pool != nil {
		Pool.Close()
	}
}

// GetContext возвращает контекст с таймаутом для запросов к базе данных
func GetContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), QueryTimeout)
}

// Bound ограничивает контекст вызывающего таймаутом запроса
func Bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, QueryTimeout)
}
