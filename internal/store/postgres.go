package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rajivgeraev/skillmates-api/internal/apperr"
	"github.com/rajivgeraev/skillmates-api/internal/db"
)

// PostgresStore - хранилище поверх Postgres бэкенда. Записи отдаются
// через row_to_json, то есть в той же форме, что и REST-API бэкенда.
type PostgresStore struct {
	pool *pgxpool.Pool
	feed *ChangeFeed
}

// NewPostgresStore создает хранилище. feed может быть nil, тогда подписки недоступны.
func NewPostgresStore(pool *pgxpool.Pool, feed *ChangeFeed) *PostgresStore {
	s := &PostgresStore{pool: pool, feed: feed}
	if feed != nil {
		feed.fetch = s.fetchByID
	}
	return s
}

// Select возвращает записи коллекции, подходящие под фильтр
func (s *PostgresStore) Select(ctx context.Context, collection string, f Filter) ([]Row, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}

	var args []any
	where, err := buildWhere(collection, f, &args)
	if err != nil {
		return nil, err
	}
	tail, err := buildOrder(collection, f)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT row_to_json(t) FROM %s AS t%s%s", ident(collection), where, tail)

	ctx, cancel := db.Bound(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(err, "ошибка запроса к "+collection)
	}
	return collectJSON(rows, collection)
}

// Insert добавляет запись и возвращает её в том виде, в каком её сохранил бэкенд
func (s *PostgresStore) Insert(ctx context.Context, collection string, row Row) (Row, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}

	cols := sortedColumns(collection, row)
	var query string
	var args []any
	if len(cols) == 0 {
		query = fmt.Sprintf("INSERT INTO %s AS t DEFAULT VALUES RETURNING row_to_json(t)", ident(collection))
	} else {
		names := make([]string, len(cols))
		placeholders := make([]string, len(cols))
		for i, c := range cols {
			names[i] = ident(c)
			args = append(args, row[c])
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		query = fmt.Sprintf("INSERT INTO %s AS t (%s) VALUES (%s) RETURNING row_to_json(t)",
			ident(collection), strings.Join(names, ", "), strings.Join(placeholders, ", "))
	}

	ctx, cancel := db.Bound(ctx)
	defer cancel()

	var raw []byte
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&raw); err != nil {
		return nil, classify(err, "ошибка вставки в "+collection)
	}
	return decodeRow(raw, collection)
}

// Update применяет патч ко всем записям под фильтром
func (s *PostgresStore) Update(ctx context.Context, collection string, f Filter, patch Row) ([]Row, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}
	if len(f.Conditions) == 0 {
		return nil, fmt.Errorf("обновление %s без условий запрещено", collection)
	}

	cols := sortedColumns(collection, patch)
	var args []any
	sets := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		if c == "id" || c == "created_at" || c == "updated_at" {
			continue
		}
		args = append(args, patch[c])
		sets = append(sets, fmt.Sprintf("%s = $%d", ident(c), len(args)))
	}
	if HasUpdatedAt(collection) {
		sets = append(sets, "updated_at = NOW()")
	}
	if len(sets) == 0 {
		return s.Select(ctx, collection, f)
	}

	where, err := buildWhere(collection, f, &args)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("UPDATE %s AS t SET %s%s RETURNING row_to_json(t)",
		ident(collection), strings.Join(sets, ", "), where)

	ctx, cancel := db.Bound(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(err, "ошибка обновления "+collection)
	}
	out, err := collectJSON(rows, collection)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, apperr.NotFound("запись не найдена")
	}
	return out, nil
}

// Delete удаляет записи под фильтром
func (s *PostgresStore) Delete(ctx context.Context, collection string, f Filter) error {
	if err := checkCollection(collection); err != nil {
		return err
	}
	if len(f.Conditions) == 0 {
		return fmt.Errorf("удаление из %s без условий запрещено", collection)
	}

	var args []any
	where, err := buildWhere(collection, f, &args)
	if err != nil {
		return err
	}

	ctx, cancel := db.Bound(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s AS t%s", ident(collection), where), args...)
	if err != nil {
		return classify(err, "ошибка удаления из "+collection)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("запись не найдена")
	}
	return nil
}

// SubscribeToInserts подписывает на вставки через LISTEN/NOTIFY
func (s *PostgresStore) SubscribeToInserts(collection string, f Filter, callback func(Row)) (Subscription, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}
	if s.feed == nil {
		return nil, apperr.New(apperr.KindBackendUnavailable, "канал уведомлений не подключен")
	}
	return s.feed.Subscribe(collection, f, callback), nil
}

func (s *PostgresStore) fetchByID(ctx context.Context, collection, id string) (Row, error) {
	rows, err := s.Select(ctx, collection, Where("id", id).Page(1, 0))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperr.NotFound("запись не найдена")
	}
	return rows[0], nil
}

func checkCollection(collection string) error {
	if !Known(collection) {
		return fmt.Errorf("неизвестная коллекция: %s", collection)
	}
	return nil
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// sortedColumns оставляет только известные колонки в стабильном порядке
func sortedColumns(collection string, row Row) []string {
	cols := make([]string, 0, len(row))
	for c := range row {
		if HasColumn(collection, c) {
			cols = append(cols, c)
		}
	}
	sort.Strings(cols)
	return cols
}

func buildWhere(collection string, f Filter, args *[]any) (string, error) {
	if len(f.Conditions) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(f.Conditions))
	for _, c := range f.Conditions {
		if !HasColumn(collection, c.Column) {
			return "", fmt.Errorf("неизвестная колонка %s.%s", collection, c.Column)
		}
		switch c.Op {
		case OpEq:
			*args = append(*args, c.Value)
			parts = append(parts, fmt.Sprintf("%s = $%d", ident(c.Column), len(*args)))
		case OpIsNull:
			parts = append(parts, fmt.Sprintf("%s IS NULL", ident(c.Column)))
		case OpContains:
			*args = append(*args, c.Value)
			parts = append(parts, fmt.Sprintf("$%d = ANY(%s)", len(*args), ident(c.Column)))
		default:
			return "", fmt.Errorf("неизвестный оператор %q", c.Op)
		}
	}
	return " WHERE " + strings.Join(parts, " AND "), nil
}

func buildOrder(collection string, f Filter) (string, error) {
	var b strings.Builder
	if len(f.Orders) > 0 {
		parts := make([]string, 0, len(f.Orders))
		for _, o := range f.Orders {
			if !HasColumn(collection, o.Column) {
				return "", fmt.Errorf("неизвестная колонка %s.%s", collection, o.Column)
			}
			dir := "ASC"
			if o.Desc {
				dir = "DESC"
			}
			parts = append(parts, fmt.Sprintf("%s %s NULLS LAST", ident(o.Column), dir))
		}
		b.WriteString(" ORDER BY " + strings.Join(parts, ", "))
	}
	if f.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", f.Limit)
	}
	if f.Offset > 0 {
		fmt.Fprintf(&b, " OFFSET %d", f.Offset)
	}
	return b.String(), nil
}

func collectJSON(rows pgx.Rows, collection string) ([]Row, error) {
	defer rows.Close()

	out := []Row{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, classify(err, "ошибка чтения "+collection)
		}
		row, err := decodeRow(raw, collection)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "ошибка чтения "+collection)
	}
	return out, nil
}

func decodeRow(raw []byte, collection string) (Row, error) {
	var row Row
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, fmt.Errorf("ошибка разбора записи %s: %w", collection, err)
	}
	return row, nil
}

// classify переводит ошибки драйвера в таксономию apperr
func classify(err error, message string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.Wrap(apperr.KindNotFound, "запись не найдена", err)
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return apperr.Wrap(apperr.KindTimeout, "бэкенд не ответил вовремя", err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return apperr.Wrap(apperr.KindConflict, "запись уже существует", err)
		case "23503", "23514", "23502": // foreign_key, check, not_null
			return apperr.Wrap(apperr.KindValidation, "данные не прошли проверку бэкенда", err)
		case "22P02": // некорректный uuid - такой записи точно нет
			return apperr.Wrap(apperr.KindNotFound, "запись не найдена", err)
		}
		return fmt.Errorf("%s: %w", message, err)
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return apperr.Wrap(apperr.KindNetwork, "нет соединения с бэкендом", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) || pgconn.SafeToRetry(err) {
		return apperr.Wrap(apperr.KindNetwork, "сетевая ошибка при обращении к бэкенду", err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%s: %w", message, err)
}
